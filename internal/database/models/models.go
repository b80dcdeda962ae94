package models

// Tenant is an isolated customer owning one DID, one outbound trunk and a
// set of PJSIP endpoints.
type Tenant struct {
	ID            string
	InboundDID    string
	OutboundTrunk string
}

// Endpoint is a realtime PJSIP endpoint row (ps_endpoints). The endpoint ID
// doubles as the extension number and the SIP username.
type Endpoint struct {
	ID              string
	Transport       string
	AORs            string
	Auth            string
	Context         string
	Disallow        string
	Allow           string
	DirectMedia     string
	ForceRport      string
	RewriteContact  string
	ICESupport      string
	MediaEncryption string
	TenantID        string
}

// Auth is a realtime PJSIP credential row (ps_auths).
type Auth struct {
	ID       string
	AuthType string // "userpass"
	Username string
	Password string
}

// AOR is a realtime PJSIP address-of-record row (ps_aors).
type AOR struct {
	ID             string
	MaxContacts    int
	RemoveExisting string // "yes" | "no"
}
