package ticket

// Ticket statuses. A ticket moves strictly forward through its flow
// sequence; REVOKED and TERMINATED are user-initiated terminals.
const (
	StatusPending       = "PENDING"
	StatusApproval      = "APPROVAL"
	StatusConfirm       = "CONFIRM"
	StatusResourceApply = "RESOURCE_APPLY"
	StatusInnerFlow     = "INNER_FLOW"
	StatusPost          = "POST"
	StatusSucceeded     = "SUCCEEDED"
	StatusFailed        = "FAILED"
	StatusRevoked       = "REVOKED"
	StatusTerminated    = "TERMINATED"
)

// Flow types, one row per stage of a ticket.
const (
	FlowApproval      = "APPROVAL"
	FlowConfirm       = "CONFIRM"
	FlowResourceApply = "RESOURCE_APPLY"
	FlowInner         = "INNER_FLOW"
	FlowPost          = "POST"
)

// Flow statuses mirror what the engine reports.
const (
	FlowStatusPending  = "PENDING"
	FlowStatusRunning  = "RUNNING"
	FlowStatusFinished = "FINISHED"
	FlowStatusFailed   = "FAILED"
	FlowStatusRevoked  = "REVOKED"
)

// Registered ticket types. The enumeration is closed; adding a type
// means registering a new builder.
const (
	TypeMySQLFailoverDrill       = "MYSQL_FAILOVER_DRILL"
	TypeMySQLProxyAutofix        = "MYSQL_PROXY_AUTOFIX"
	TypeMySQLSemanticCheck       = "MYSQL_SEMANTIC_CHECK"
	TypeMySQLAuthorizeRules      = "MYSQL_AUTHORIZE_RULES"
	TypeTendbClusterAddCLB       = "TENDBCLUSTER_ADD_CLB"
	TypeTendbClusterCLBBind      = "TENDBCLUSTER_CLB_BIND_DOMAIN"
	TypeTendbClusterDeleteClear  = "TENDBCLUSTER_DELETE_CLEAR_DB"
	TypeESDeletePolaris          = "ES_DELETE_POLARIS"
	TypeESDNSBindCLB             = "ES_DNS_BIND_CLB"
	TypeVMDestroy                = "VM_DESTROY"
	TypeResourceImport           = "RESOURCE_IMPORT"
)
