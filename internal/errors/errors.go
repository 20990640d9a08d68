// Package errors wraps errors with a component, a category and context values.
// Built errors are forwarded to the telemetry reporter when one is installed.
//
//	return errors.New(err).
//		Component("blobstore").
//		Category(errors.CategoryMediaTransfer).
//		Context("backend", "sftp").
//		Build()
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors for handling, status mapping and reporting.
type ErrorCategory string

// CategorizedError is implemented by errors that carry a category.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

// Categories seen by users while annotating.
const (
	CategoryDetectionPending ErrorCategory = "detection-pending" // no anchor frame yet
	CategorySyncWrite        ErrorCategory = "sync-write"
	CategoryMediaTransfer    ErrorCategory = "media-transfer"
	CategoryMalformedEntity  ErrorCategory = "malformed-entity" // remote document did not decode
)

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryState         ErrorCategory = "state"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryDatabase      ErrorCategory = "database"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryNetwork       ErrorCategory = "network"
	CategoryHTTP          ErrorCategory = "http-request"
	CategoryTracking      ErrorCategory = "tracking"
	CategoryImageFetch    ErrorCategory = "image-fetch"
	CategoryImageDecode   ErrorCategory = "image-decode"
	CategoryMQTTConnect   ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish   ErrorCategory = "mqtt-publish"
	CategoryTextService   ErrorCategory = "text-service"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryCancellation  ErrorCategory = "cancellation"
	CategoryGeneric       ErrorCategory = "generic"
)

const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is set when no component was given and none was detected.
const ComponentUnknown = "unknown"

const modulePath = "github.com/tphakala/fieldpin/internal/"

// reporting is true while an enabled reporter is installed.
var reporting atomic.Bool

// EnhancedError is an error with the metadata set through ErrorBuilder.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Priority  string // empty unless set explicitly
	Context   map[string]any
	Timestamp time.Time

	reported atomic.Bool
}

func (ee *EnhancedError) Error() string {
	if ee.Err == nil {
		return string(ee.Category)
	}
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error { return ee.Err }

// Is matches another EnhancedError of the same category. Other targets are
// compared against the wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

func (ee *EnhancedError) ErrorCategory() ErrorCategory { return ee.Category }

// GetContext returns a copy of the context values.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return map[string]any{}
	}
	return maps.Clone(ee.Context)
}

func (ee *EnhancedError) MarkReported() { ee.reported.Store(true) }

func (ee *EnhancedError) IsReported() bool { return ee.reported.Load() }

// ErrorBuilder collects metadata for an EnhancedError.
type ErrorBuilder struct {
	ee *EnhancedError
}

// New starts an EnhancedError wrapping err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{ee: &EnhancedError{Err: err}}
}

// Newf starts an EnhancedError from a format string.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.ee.Component = component
	return b
}

func (b *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	b.ee.Category = category
	return b
}

// Priority overrides the reported priority. Unknown values become medium.
func (b *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		b.ee.Priority = priority
	default:
		b.ee.Priority = PriorityMedium
	}
	return b
}

func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.ee.Context == nil {
		b.ee.Context = make(map[string]any, 2)
	}
	b.ee.Context[key] = value
	return b
}

// Build fills in the missing component and category and reports the error.
// A missing category is inherited from the wrapped error. The component is
// taken from the caller's package only while reporting is active.
func (b *ErrorBuilder) Build() *EnhancedError {
	ee := b.ee
	ee.Timestamp = time.Now()
	if ee.Category == "" {
		ee.Category = inheritedCategory(ee.Err)
	}

	active := reporting.Load()
	if ee.Component == "" {
		ee.Component = ComponentUnknown
		if active {
			ee.Component = callerComponent()
		}
	}
	if active {
		reportToTelemetry(ee)
	}
	return ee
}

func inheritedCategory(err error) ErrorCategory {
	var ce CategorizedError
	if err != nil && stderrors.As(err, &ce) && ce.ErrorCategory() != "" {
		return ce.ErrorCategory()
	}
	return CategoryGeneric
}

// callerComponent returns the package name of the first stack frame inside
// this module and outside this package.
func callerComponent() string {
	pcs := make([]uintptr, 16)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])
	for {
		frame, more := frames.Next()
		if rest, ok := strings.CutPrefix(frame.Function, modulePath); ok && !strings.HasPrefix(rest, "errors.") {
			if pkg, _, found := strings.Cut(rest, "."); found && pkg != "" {
				return pkg
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// DetectionPending is returned by operations that need an anchor frame
// before the reference image was detected.
func DetectionPending(operation string) *EnhancedError {
	return New(fmt.Errorf("%s: reference image not detected yet", operation)).
		Category(CategoryDetectionPending).
		Priority(PriorityLow).
		Context("operation", operation).
		Build()
}

func ValidationError(message string) *EnhancedError {
	return New(stderrors.New(message)).Category(CategoryValidation).Build()
}

// NewStd is errors.New from the standard library.
func NewStd(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

// IsCategory reports whether err or anything it wraps or joins has category.
func IsCategory(err error, category ErrorCategory) bool {
	if err == nil {
		return false
	}
	var ce CategorizedError
	if stderrors.As(err, &ce) && ce.ErrorCategory() == category {
		return true
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if IsCategory(e, category) {
				return true
			}
		}
	}
	return false
}

func IsNotFound(err error) bool { return IsCategory(err, CategoryNotFound) }
