// Package model defines the persisted entities shared between devices and
// their document encoding.
package model

import (
	"strconv"
	"time"

	"github.com/tphakala/fieldpin/internal/geom"
)

// Backing store collections.
const (
	CollectionAnnotations   = "annotations"
	CollectionDetailedInfos = "annotationDetailedInfos"
	CollectionProcedures    = "procedures"
	CollectionAIProcedures  = "aiProcedures"
)

// PartitionField is the document field every container-scoped query filters on.
const PartitionField = "containerName"

// Annotation is a text note pinned at a position in a container's anchor frame.
type Annotation struct {
	ID            string    `json:"id"`
	ContainerName string    `json:"containerName"`
	CategoryName  string    `json:"categoryName,omitempty"`
	Text          string    `json:"text"`
	Position      geom.Vec3 `json:"position"` // anchor-local coordinates
}

// DetailedInfo is optional rich content attached to an annotation. It shares the
// annotation's id.
type DetailedInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Steps []Step `json:"steps"`
}

// Step is one entry of a DetailedInfo. Steps and media are addressed by index.
type Step struct {
	Text      string   `json:"text"`
	MediaURLs []string `json:"mediaURLs"`
}

// MediaURLs returns every media url referenced by the detailed info in step order.
func (d DetailedInfo) MediaURLs() []string {
	var urls []string
	for _, s := range d.Steps {
		urls = append(urls, s.MediaURLs...)
	}
	return urls
}

// ProcedureKind distinguishes hand-authored and generated procedures. Each kind
// lives in its own collection.
type ProcedureKind string

const (
	KindManual ProcedureKind = "manual"
	KindAI     ProcedureKind = "ai"
)

// Collection returns the backing store collection holding procedures of this kind.
func (k ProcedureKind) Collection() string {
	if k == KindAI {
		return CollectionAIProcedures
	}
	return CollectionProcedures
}

// Valid reports whether k is a known kind.
func (k ProcedureKind) Valid() bool {
	return k == KindManual || k == KindAI
}

// Media is an attachment of a procedure step.
type Media struct {
	URL  string `json:"url"`
	Type string `json:"type"` // "image", "video" or "audio"
	Name string `json:"name"`
}

// ProcedureStep is one ordered step of a procedure. Position is nil until the step
// has been pinned in the anchor frame.
type ProcedureStep struct {
	Description string     `json:"description"`
	Position    *geom.Vec3 `json:"position,omitempty"`
	Media       []Media    `json:"media"`
}

// Procedure is an ordered set of steps for a container. ContainerID is carried
// for display only; queries always use ContainerName.
type Procedure struct {
	Kind          ProcedureKind   `json:"-"`
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	ContainerName string          `json:"containerName"`
	ContainerID   string          `json:"containerID,omitempty"`
	CategoryName  string          `json:"categoryName,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	Steps         []ProcedureStep `json:"steps"`
}

// MediaURLs returns every media url referenced by the procedure in step order.
func (p Procedure) MediaURLs() []string {
	var urls []string
	for _, s := range p.Steps {
		for _, m := range s.Media {
			urls = append(urls, m.URL)
		}
	}
	return urls
}

// StepPinID is the node id used when a procedure step is rendered as a pin.
func StepPinID(procedureID string, index int) string {
	return procedureID + "#" + strconv.Itoa(index+1)
}
