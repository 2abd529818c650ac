package errs

// Module codes. Each module owns a closed catalog of three-digit codes;
// adding an entry means extending the catalog here, never at a raise site.
const (
	ModuleExternalProxy uint16 = 3100
	ModuleFlowValidate  uint16 = 3200
	ModuleMeta          uint16 = 3300
	ModuleProxyPass     uint16 = 3400
)

// External-proxy routing errors (EXTERNAL_PROXY_CODE 001..004).
var (
	ExternalUserNotExist = &Error{
		Module:  ModuleExternalProxy,
		Code:    "001",
		Message: "external user does not exist",
		Tpl:     "external user {user} does not exist",
	}
	TenantNotExist = &Error{
		Module:  ModuleExternalProxy,
		Code:    "002",
		Message: "tenant does not exist",
		Tpl:     "tenant {tenant} does not exist",
	}
	ClusterNotExist = &Error{
		Module:  ModuleExternalProxy,
		Code:    "003",
		Message: "cluster does not exist",
		Tpl:     "cluster {cluster_id} does not exist",
	}
	RouteDenied = &Error{
		Module:  ModuleExternalProxy,
		Code:    "004",
		Message: "route denied",
		Tpl:     "route to {target} denied for {user}",
	}
)

// Flow assembly errors (FLOW_CODE 001).
var (
	TicketDataInvalid = &Error{
		Module:  ModuleFlowValidate,
		Code:    "001",
		Message: "ticket data failed validation",
		Tpl:     "ticket data invalid: {field}: {reason}",
	}
)

// Metadata store errors.
var (
	ClusterEntryExist = &Error{
		Module:  ModuleMeta,
		Code:    "001",
		Message: "cluster entry already exists",
		Tpl:     "cluster {cluster_id} already has a {entry_type} entry {entry}",
	}
	ClusterEntryNotExist = &Error{
		Module:  ModuleMeta,
		Code:    "002",
		Message: "cluster entry does not exist",
		Tpl:     "cluster {cluster_id} has no {entry_type} entry",
	}
)
