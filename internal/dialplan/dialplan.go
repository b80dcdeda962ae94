// Package dialplan renders the per-tenant Asterisk extensions.conf block.
//
// Rendering is a pure function of its Input: identical inputs always yield
// byte-identical output, and no ambient state (environment, clock, store)
// is consulted.
package dialplan

import (
	"bytes"
	"text/template"
)

// Channel variables the AGI session publishes and the dialplan branches on.
const (
	VarAllowed    = "IS_ALLOWED"
	VarTargetType = "TARGET_TYPE"
)

// Input is everything the renderer needs for one tenant.
type Input struct {
	TenantID      string
	InboundNumber string
	Trunk         string
	// AGIURL is the FastAGI address Asterisk uses to reach the call
	// authorization service, e.g. agi://localhost:4573.
	AGIURL string
}

var tmpl = template.Must(template.New("tenant").Parse(`
; Auto-generated configuration for Tenant: {{.TenantID}}

[inbound-{{.TenantID}}]
exten => {{.InboundNumber}},1,NoOp(Inbound call for {{.TenantID}})
same => n,Answer()
same => n,Playback(welcome)
same => n,Hangup()

[outbound-{{.TenantID}}]
exten => _X.,1,NoOp(Outbound call from {{.TenantID}})
same => n,Set(CDR(tenant)={{.TenantID}})
same => n,Set(recording={{.TenantID}}/${CALLERID(num)}_${EXTEN}_${EPOCH}.wav)
same => n,AGI({{.AGIURL}},${CALLERID(num)},${EXTEN})

; Deny unless the authorization service explicitly allowed the call.
same => n,GotoIf($["${` + VarAllowed + `}" != "true"]?deny)

same => n,GotoIf($["${` + VarTargetType + `}" = "INTERNAL"]?dial_internal)
same => n,GotoIf($["${` + VarTargetType + `}" = "EXTERNAL"]?dial_external)
same => n,Goto(deny)

; Extension to extension within {{.TenantID}}.
same => n(dial_internal),NoOp(Internal Call Detected)
same => n,Set(CDR(recording)=${recording})
same => n,MixMonitor(${recording},ab)
same => n,Dial(PJSIP/${EXTEN},30)
same => n,Hangup()

; PSTN via {{.Trunk}}.
same => n(dial_external),NoOp(External Call Detected)
same => n,Set(CDR(recording)=${recording})
same => n,MixMonitor(${recording},ab)
same => n,Dial(PJSIP/${EXTEN}@{{.Trunk}},60)
same => n,Hangup()

same => n(deny),NoOp(Call Denied)
same => n,Playback(ss-noservice)
same => n,Hangup()
`))

// Render produces the dialplan text for one tenant.
func Render(in Input) []byte {
	var buf bytes.Buffer
	// Executing into a bytes.Buffer with plain string fields cannot fail.
	if err := tmpl.Execute(&buf, in); err != nil {
		panic("dialplan: " + err.Error())
	}
	return buf.Bytes()
}

// FileName returns the artifact file name for a tenant.
func FileName(tenantID string) string {
	return "extensions_" + tenantID + ".conf"
}
