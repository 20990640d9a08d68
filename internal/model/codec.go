package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/geom"
)

// ErrMalformed marks a remote document that could not be decoded into an entity.
var ErrMalformed = errors.NewStd("malformed document")

// malformed wraps a decode failure for the document id in a categorized error.
func malformed(collection, id string, cause error) error {
	return errors.New(fmt.Errorf("%w: %s/%s: %w", ErrMalformed, collection, id, cause)).
		Component("model").
		Category(errors.CategoryMalformedEntity).
		Context("collection", collection).
		Context("id", id).
		Build()
}

// Encode serializes an entity into the document representation stored in the
// backing store.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.New(err).
			Component("model").
			Category(errors.CategoryValidation).
			Context("operation", "encode").
			Build()
	}
	return data, nil
}

// DecodeAnnotation decodes an annotations document. Every field except
// categoryName is required; anything missing or of the wrong type fails the
// whole document.
func DecodeAnnotation(id string, data []byte) (Annotation, error) {
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return Annotation{}, malformed(CollectionAnnotations, id, err)
	}

	a := Annotation{ID: id}
	if a.ContainerName, err = requiredString(obj, "containerName"); err != nil {
		return Annotation{}, malformed(CollectionAnnotations, id, err)
	}
	if a.Text, err = obj.GetString("text"); err != nil {
		return Annotation{}, malformed(CollectionAnnotations, id, fmt.Errorf("text: %w", err))
	}
	if a.CategoryName, err = optionalString(obj, "categoryName"); err != nil {
		return Annotation{}, malformed(CollectionAnnotations, id, err)
	}
	pos, err := obj.GetObject("position")
	if err != nil {
		return Annotation{}, malformed(CollectionAnnotations, id, fmt.Errorf("position: %w", err))
	}
	if a.Position, err = decodeVec3(pos); err != nil {
		return Annotation{}, malformed(CollectionAnnotations, id, err)
	}
	return a, nil
}

// DecodeDetailedInfo decodes an annotationDetailedInfos document.
func DecodeDetailedInfo(id string, data []byte) (DetailedInfo, error) {
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return DetailedInfo{}, malformed(CollectionDetailedInfos, id, err)
	}

	d := DetailedInfo{ID: id}
	if d.Title, err = obj.GetString("title"); err != nil {
		return DetailedInfo{}, malformed(CollectionDetailedInfos, id, fmt.Errorf("title: %w", err))
	}
	steps, err := optionalObjectArray(obj, "steps")
	if err != nil {
		return DetailedInfo{}, malformed(CollectionDetailedInfos, id, err)
	}
	for i, s := range steps {
		text, err := s.GetString("text")
		if err != nil {
			return DetailedInfo{}, malformed(CollectionDetailedInfos, id, fmt.Errorf("steps[%d].text: %w", i, err))
		}
		urls, err := optionalStringArray(s, "mediaURLs")
		if err != nil {
			return DetailedInfo{}, malformed(CollectionDetailedInfos, id, fmt.Errorf("steps[%d]: %w", i, err))
		}
		d.Steps = append(d.Steps, Step{Text: text, MediaURLs: urls})
	}
	return d, nil
}

// DecodeProcedure decodes a procedures or aiProcedures document.
func DecodeProcedure(kind ProcedureKind, id string, data []byte) (Procedure, error) {
	collection := kind.Collection()
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return Procedure{}, malformed(collection, id, err)
	}

	p := Procedure{Kind: kind, ID: id}
	if p.Name, err = requiredString(obj, "name"); err != nil {
		return Procedure{}, malformed(collection, id, err)
	}
	if p.ContainerName, err = requiredString(obj, "containerName"); err != nil {
		return Procedure{}, malformed(collection, id, err)
	}
	if p.Description, err = optionalString(obj, "description"); err != nil {
		return Procedure{}, malformed(collection, id, err)
	}
	if p.ContainerID, err = optionalString(obj, "containerID"); err != nil {
		return Procedure{}, malformed(collection, id, err)
	}
	if p.CategoryName, err = optionalString(obj, "categoryName"); err != nil {
		return Procedure{}, malformed(collection, id, err)
	}
	created, err := requiredString(obj, "createdAt")
	if err != nil {
		return Procedure{}, malformed(collection, id, err)
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Procedure{}, malformed(collection, id, fmt.Errorf("createdAt: %w", err))
	}

	steps, err := optionalObjectArray(obj, "steps")
	if err != nil {
		return Procedure{}, malformed(collection, id, err)
	}
	for i, s := range steps {
		step, err := decodeProcedureStep(s)
		if err != nil {
			return Procedure{}, malformed(collection, id, fmt.Errorf("steps[%d]: %w", i, err))
		}
		p.Steps = append(p.Steps, step)
	}
	return p, nil
}

func decodeProcedureStep(s *jason.Object) (ProcedureStep, error) {
	var step ProcedureStep
	var err error
	if step.Description, err = s.GetString("description"); err != nil {
		return step, fmt.Errorf("description: %w", err)
	}

	if !absent(s, "position") {
		posObj, err := s.GetObject("position")
		if err != nil {
			return step, fmt.Errorf("position: %w", err)
		}
		pos, err := decodeVec3(posObj)
		if err != nil {
			return step, err
		}
		step.Position = &pos
	}

	media, err := optionalObjectArray(s, "media")
	if err != nil {
		return step, err
	}
	for i, m := range media {
		u, err := requiredString(m, "url")
		if err != nil {
			return step, fmt.Errorf("media[%d]: %w", i, err)
		}
		typ, err := optionalString(m, "type")
		if err != nil {
			return step, fmt.Errorf("media[%d]: %w", i, err)
		}
		name, err := optionalString(m, "name")
		if err != nil {
			return step, fmt.Errorf("media[%d]: %w", i, err)
		}
		step.Media = append(step.Media, Media{URL: u, Type: typ, Name: name})
	}
	return step, nil
}

func decodeVec3(obj *jason.Object) (geom.Vec3, error) {
	var v geom.Vec3
	var err error
	if v.X, err = obj.GetFloat64("x"); err != nil {
		return v, fmt.Errorf("position.x: %w", err)
	}
	if v.Y, err = obj.GetFloat64("y"); err != nil {
		return v, fmt.Errorf("position.y: %w", err)
	}
	if v.Z, err = obj.GetFloat64("z"); err != nil {
		return v, fmt.Errorf("position.z: %w", err)
	}
	if !v.IsFinite() {
		return v, fmt.Errorf("position is not finite: %v", v)
	}
	return v, nil
}

func requiredString(obj *jason.Object, key string) (string, error) {
	s, err := obj.GetString(key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	if s == "" {
		return "", fmt.Errorf("%s: empty", key)
	}
	return s, nil
}

// absent reports whether key is missing or explicitly null.
func absent(obj *jason.Object, key string) bool {
	v, err := obj.GetValue(key)
	if err != nil {
		return true
	}
	return v.Null() == nil
}

// optionalString returns "" for a missing or null key and fails on any other type.
func optionalString(obj *jason.Object, key string) (string, error) {
	if absent(obj, key) {
		return "", nil
	}
	s, err := obj.GetString(key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return s, nil
}

// optionalObjectArray returns nil for a missing or null key.
func optionalObjectArray(obj *jason.Object, key string) ([]*jason.Object, error) {
	if absent(obj, key) {
		return nil, nil
	}
	arr, err := obj.GetObjectArray(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return arr, nil
}

func optionalStringArray(obj *jason.Object, key string) ([]string, error) {
	if absent(obj, key) {
		return nil, nil
	}
	arr, err := obj.GetStringArray(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return arr, nil
}

// roundCoordinate trims float noise from coordinates before they are written.
func roundCoordinate(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Normalized returns a copy of a with rounded coordinates.
func (a Annotation) Normalized() Annotation {
	a.Position = geom.Vec3{
		X: roundCoordinate(a.Position.X),
		Y: roundCoordinate(a.Position.Y),
		Z: roundCoordinate(a.Position.Z),
	}
	return a
}
