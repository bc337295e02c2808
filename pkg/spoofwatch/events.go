package spoofwatch

import "github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"

// Severity is the importance of a logged event.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// EventID is a stable numeric code for a kind of logged event.
type EventID int

const (
	EventLoadedUDPClient            EventID = 1
	EventUnableToLoadUDPClient      EventID = 2
	EventNoValidServices            EventID = 3
	EventSetBroadcastAddress        EventID = 4
	EventNoBroadcastAdapterFound    EventID = 5
	EventSpoofDetected              EventID = 6
	EventConfidenceLevelIncreased   EventID = 7
	EventWPADProxyFound             EventID = 8
	EventWPADProxyError             EventID = 9
	EventUnexpectedProtocolResponse EventID = 10
	EventSMBTestSucceeded           EventID = 11
	EventSMBTestFailed              EventID = 12
	EventRunningAsAdmin             EventID = 13
	EventInvalidArguments           EventID = 14
	EventMessagesSent               EventID = 15
)

// Category groups events for filtering.
type Category int

const (
	CategoryLoadingInfo                 Category = 1
	CategoryFatalError                  Category = 2
	CategoryNonFatalError               Category = 3
	CategorySpoofNotice                 Category = 4
	CategoryDetectedUnexpectedCondition Category = 5
	CategorySecurityWarning             Category = 6
)

func (c Category) String() string {
	switch c {
	case CategoryLoadingInfo:
		return "LoadingInfo"
	case CategoryFatalError:
		return "FatalError"
	case CategoryNonFatalError:
		return "NonFatalError"
	case CategorySpoofNotice:
		return "SpoofNotice"
	case CategoryDetectedUnexpectedCondition:
		return "DetectedUnexpectedCondition"
	case CategorySecurityWarning:
		return "SecurityWarning"
	default:
		return "Unknown"
	}
}

// Logger receives the Detector's operational messages.
type Logger interface {
	Log(sev Severity, event EventID, category Category, msg string)
}

// Recorder receives pipeline measurements.
type Recorder interface {
	// RequestSent counts one query sent for p.
	RequestSent(p detection.Protocol)
	// Reply counts one decoded reply received on the socket for p.
	Reply(p detection.Protocol, r detection.Result)
	// Probe counts one WPAD or SMB probe outcome.
	Probe(r detection.Result)
	// Confidence records a new highest confidence level.
	Confidence(c detection.Confidence)
}

type nopLogger struct{}

func (nopLogger) Log(Severity, EventID, Category, string) {}

type nopRecorder struct{}

func (nopRecorder) RequestSent(detection.Protocol)             {}
func (nopRecorder) Reply(detection.Protocol, detection.Result) {}
func (nopRecorder) Probe(detection.Result)                     {}
func (nopRecorder) Confidence(detection.Confidence)            {}
