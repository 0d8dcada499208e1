package model

import "fmt"

// Identity is the (tenant, business-unit, user) triple that owns a run.
// Every run operation is scoped by it; a run is invisible outside its triple.
type Identity struct {
	TenantID       string
	BusinessUnitID string
	UserID         string
}

func (i Identity) Key() string {
	return fmt.Sprintf("%s:%s:%s", i.TenantID, i.BusinessUnitID, i.UserID)
}

func (i Identity) Valid() bool {
	return i.TenantID != "" && i.BusinessUnitID != "" && i.UserID != ""
}
