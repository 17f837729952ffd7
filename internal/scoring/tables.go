package scoring

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the four known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

const defaultBaseScore = 5.5

var baseScores = map[Severity]float64{
	SeverityCritical: 9.5,
	SeverityHigh:     7.5,
	SeverityMedium:   5.5,
	SeverityLow:      3.5,
}

type fieldWeight struct {
	weight float64
	vector string
	risk   string
}

var fieldWeights = map[string]fieldWeight{
	"request_body":    {weight: 1.5, vector: "payload_injection", risk: "complex_attack"},
	"params":          {weight: 1.2, vector: "parameter_pollution"},
	"user_agent":      {weight: 0.8, vector: "automated_attack", risk: "tool_detected"},
	"request_path":    {weight: 1.0},
	"request_headers": {weight: 1.3, vector: "header_manipulation", risk: "protocol_abuse"},
	"src_ip":          {weight: 0.7},
}

type categoryThreat struct {
	delta  float64
	vector string
	risk   string
}

var categoryThreats = map[string]categoryThreat{
	"rce":                 {2.5, "remote_code_execution", "system_compromise"},
	"injection":           {2.0, "code_injection", "data_manipulation"},
	"sql_injection":       {2.8, "database_compromise", "data_breach"},
	"xss":                 {1.8, "client_side_attack", "session_hijack"},
	"ssrf":                {2.2, "server_side_request", "internal_network_access"},
	"file_inclusion":      {2.3, "file_manipulation", "code_execution"},
	"command_injection":   {2.6, "system_command_execution", "privilege_escalation"},
	"log4j_vulnerability": {3.0, "jndi_injection", "remote_code_execution"},
	"api_security":        {1.9, "api_abuse", "unauthorized_access"},
	"threat_intelligence": {2.1, "known_threat", "confirmed_attack"},
	"supply_chain":        {2.4, "supply_chain_attack", "wide_impact"},
	"zero_trust":          {1.7, "trust_violation", "policy_breach"},
	"automated_response":  {1.5, "automation_trigger", "mass_attack"},
	"privacy_compliance":  {1.6, "privacy_violation", "compliance_breach"},
	"financial_security":  {2.7, "financial_fraud", "monetary_loss"},
	"user_behavior":       {1.4, "behavioral_anomaly", "insider_threat"},
	"attack_chain":        {2.9, "multi_stage_attack", "advanced_persistent_threat"},
	"ai_ml_anomaly":       {1.3, "anomaly_detection", "unknown_pattern"},
	"cloud_native":        {2.0, "cloud_attack", "container_escape"},
	"file_upload":         {2.5, "malicious_upload", "webshell_implant"},
}

// Keywords looked up in a rule's attack_patterns. The rule corpus mixes
// English and Chinese labels, so both appear here verbatim.
var (
	highRiskKeywords   = []string{"remote_code_execution", "sql注入", "命令注入", "文件包含", "SSRF", "反序列化"}
	mediumRiskKeywords = []string{"XSS", "CSRF", "路径遍历", "信息泄露", "权限绕过"}
)

// successCodes are responses suggesting the attack went through.
var successCodes = map[int]bool{200: true, 201: true, 202: true}

// KnownCategory reports whether category has an entry in the threat table.
func KnownCategory(category string) bool {
	_, ok := categoryThreats[category]
	return ok
}
