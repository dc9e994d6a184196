package keygate

import "time"

// Identity is a verified token's subject and claims. It is built only after
// every check passed and belongs to the caller.
type Identity struct {
	Subject   string
	Issuer    string
	Audience  string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Claims    map[string]any
}

// StringClaim returns claim k if it is a string.
func (i *Identity) StringClaim(k string) (string, bool) {
	if i == nil {
		return "", false
	}
	s, ok := i.Claims[k].(string)
	return s, ok
}

type DecisionKind int

const (
	Allow DecisionKind = iota
	Deny
)

func (k DecisionKind) String() string {
	if k == Deny {
		return "deny"
	}
	return "allow"
}

// Decision is the gate's verdict for one request. An Allow without Identity
// means the request is anonymous; enforcing path policy is the caller's job.
type Decision struct {
	Kind     DecisionKind
	Identity *Identity
	// RedirectTarget is set on Deny and points at the re-authentication path
	// with the original request URI attached.
	RedirectTarget string
	Reason         Reason
	// Bypassed reports that the path was exempt and no verification ran.
	Bypassed bool
}

func (d Decision) Allowed() bool { return d.Kind == Allow }

// Authenticated reports an Allow carrying a verified identity.
func (d Decision) Authenticated() bool { return d.Kind == Allow && d.Identity != nil }
