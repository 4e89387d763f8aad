package auth

import "slices"

// Resources guarded by the permission model.
const (
	ResourceDemandas   = "demandas"
	ResourceDocumentos = "documentos"
	ResourceUsuarios   = "usuarios"
	ResourceOrgaos     = "orgaos"
	ResourceRelatorios = "relatorios"
	ResourceSistema    = "sistema"
)

// Actions that can be performed on a resource.
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionEdit   = "edit"
	ActionDelete = "delete"
	ActionExport = "export"
	ActionAdmin  = "admin"
)

// Permission constants define the available permissions in the system.
// A permission is always "resource:action".
const (
	// PermDemandasView allows viewing demands.
	PermDemandasView = ResourceDemandas + ":" + ActionView
	// PermDemandasCreate allows opening new demands.
	PermDemandasCreate = ResourceDemandas + ":" + ActionCreate
	// PermDemandasEdit allows editing demands.
	PermDemandasEdit = ResourceDemandas + ":" + ActionEdit
	// PermDemandasDelete allows deleting demands.
	PermDemandasDelete = ResourceDemandas + ":" + ActionDelete

	// PermDocumentosView allows viewing documents.
	PermDocumentosView = ResourceDocumentos + ":" + ActionView
	// PermDocumentosCreate allows uploading documents.
	PermDocumentosCreate = ResourceDocumentos + ":" + ActionCreate
	// PermDocumentosEdit allows editing documents.
	PermDocumentosEdit = ResourceDocumentos + ":" + ActionEdit
	// PermDocumentosDelete allows deleting documents.
	PermDocumentosDelete = ResourceDocumentos + ":" + ActionDelete

	// PermUsuariosView allows listing user accounts.
	PermUsuariosView = ResourceUsuarios + ":" + ActionView
	// PermUsuariosCreate allows creating user accounts.
	PermUsuariosCreate = ResourceUsuarios + ":" + ActionCreate
	// PermUsuariosEdit allows editing user accounts.
	PermUsuariosEdit = ResourceUsuarios + ":" + ActionEdit
	// PermUsuariosDelete allows deleting user accounts.
	PermUsuariosDelete = ResourceUsuarios + ":" + ActionDelete

	// PermOrgaosView allows viewing organisations.
	PermOrgaosView = ResourceOrgaos + ":" + ActionView
	// PermOrgaosCreate allows registering organisations.
	PermOrgaosCreate = ResourceOrgaos + ":" + ActionCreate
	// PermOrgaosEdit allows editing organisations.
	PermOrgaosEdit = ResourceOrgaos + ":" + ActionEdit
	// PermOrgaosDelete allows deleting organisations.
	PermOrgaosDelete = ResourceOrgaos + ":" + ActionDelete

	// PermRelatoriosView allows viewing reports.
	PermRelatoriosView = ResourceRelatorios + ":" + ActionView
	// PermRelatoriosExport allows exporting reports.
	PermRelatoriosExport = ResourceRelatorios + ":" + ActionExport

	// PermSistemaAdmin allows administering the system itself.
	PermSistemaAdmin = ResourceSistema + ":" + ActionAdmin
)

// Built-in roles.
const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleReadonly = "readonly"
)

// Permission joins resource and action.
func Permission(resource, action string) string {
	return resource + ":" + action
}

// AllPermissions returns the complete permission universe.
func AllPermissions() []string {
	return []string{
		PermDemandasView, PermDemandasCreate, PermDemandasEdit, PermDemandasDelete,
		PermDocumentosView, PermDocumentosCreate, PermDocumentosEdit, PermDocumentosDelete,
		PermUsuariosView, PermUsuariosCreate, PermUsuariosEdit, PermUsuariosDelete,
		PermOrgaosView, PermOrgaosCreate, PermOrgaosEdit, PermOrgaosDelete,
		PermRelatoriosView, PermRelatoriosExport,
		PermSistemaAdmin,
	}
}

// RoleTable maps a role name to the permissions it implies.
type RoleTable map[string][]string

// DefaultRoleTable returns the built-in role table.
func DefaultRoleTable() RoleTable {
	return RoleTable{
		RoleAdmin: AllPermissions(),
		RoleUser: {
			PermDemandasView, PermDemandasCreate, PermDemandasEdit,
			PermDocumentosView, PermDocumentosCreate, PermDocumentosEdit,
			PermOrgaosView,
			PermRelatoriosView, PermRelatoriosExport,
		},
		RoleReadonly: {
			PermDemandasView,
			PermDocumentosView,
			PermOrgaosView,
			PermRelatoriosView,
		},
	}
}

// Clone returns a deep copy of t.
func (t RoleTable) Clone() RoleTable {
	out := make(RoleTable, len(t))
	for role, perms := range t {
		out[role] = slices.Clone(perms)
	}

	return out
}
