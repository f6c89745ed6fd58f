package netsync

import "fmt"

// Class is the failure taxonomy every network-facing operation reports
// through. Nothing in this package panics or returns raw transport errors to
// the loop; callers branch on the class.
type Class int

const (
	// ClassSuccess: the request completed with a 2xx status.
	ClassSuccess Class = iota
	// ClassConfiguration: a required local field (base URL, credentials)
	// is absent. Never retried; surfaced by forcing configuration mode.
	ClassConfiguration
	// ClassConnectivity: no network association. Retried up to the attempt
	// cap, then held as a persistent status.
	ClassConnectivity
	// ClassAuthentication: 401/403. Sticky; gates uploads and identity
	// queries until any request succeeds.
	ClassAuthentication
	// ClassMaintenance: 503. Transient, back-off only.
	ClassMaintenance
	// ClassServer: any other non-2xx, and malformed response bodies.
	ClassServer
	// ClassNotFound: 404 on identity resolution. An expected outcome, not
	// a fault.
	ClassNotFound
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassConfiguration:
		return "configuration"
	case ClassConnectivity:
		return "connectivity"
	case ClassAuthentication:
		return "authentication"
	case ClassMaintenance:
		return "maintenance"
	case ClassServer:
		return "server"
	case ClassNotFound:
		return "not_found"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Outcome is the classified result of one operation.
type Outcome struct {
	Class  Class
	Status int // HTTP status when a response was received, else 0
	Err    error
}

// OK reports a successful outcome.
func (o Outcome) OK() bool { return o.Class == ClassSuccess }

func success(status int) Outcome {
	return Outcome{Class: ClassSuccess, Status: status}
}

func failure(class Class, status int, err error) Outcome {
	return Outcome{Class: class, Status: status, Err: err}
}

// classifyStatus maps a remote HTTP status for the general operations, where
// 404 carries no special meaning.
func classifyStatus(status int) Class {
	switch {
	case status >= 200 && status < 300:
		return ClassSuccess
	case status == 401 || status == 403:
		return ClassAuthentication
	case status == 503:
		return ClassMaintenance
	default:
		return ClassServer
	}
}

// Resolution is the result of an identity lookup. Only a completed request
// with Found=false means "tag has no assigned identity"; Attempted=false must
// never overwrite a previously known identity.
type Resolution struct {
	Attempted bool
	Found     bool
	Name      string
	Outcome   Outcome
}

func notAttempted(o Outcome) Resolution {
	return Resolution{Attempted: false, Outcome: o}
}
