package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/geom"
)

func TestAnnotationEncodeDecode(t *testing.T) {
	t.Parallel()

	in := Annotation{
		ID:            "a1",
		ContainerName: "pump-a",
		CategoryName:  "safety",
		Text:          "check valve",
		Position:      geom.Vec3{X: 0.1, Y: -0.25, Z: 1},
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := DecodeAnnotation("a1", data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeAnnotationFailsClosed(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"not json":          `{`,
		"missing container": `{"text":"x","position":{"x":0,"y":0,"z":0}}`,
		"empty container":   `{"containerName":"","text":"x","position":{"x":0,"y":0,"z":0}}`,
		"missing text":      `{"containerName":"c","position":{"x":0,"y":0,"z":0}}`,
		"string position":   `{"containerName":"c","text":"x","position":"0,0,0"}`,
		"missing axis":      `{"containerName":"c","text":"x","position":{"x":0,"y":0}}`,
		"wrong category":    `{"containerName":"c","text":"x","categoryName":5,"position":{"x":0,"y":0,"z":0}}`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeAnnotation("bad", []byte(doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.True(t, errors.IsCategory(err, errors.CategoryMalformedEntity))
		})
	}
}

func TestDecodeAnnotationOptionalCategory(t *testing.T) {
	t.Parallel()

	a, err := DecodeAnnotation("a2", []byte(`{"containerName":"c","text":"","categoryName":null,"position":{"x":1,"y":2,"z":3}}`))
	require.NoError(t, err)
	assert.Empty(t, a.CategoryName)
	assert.Equal(t, geom.Vec3{X: 1, Y: 2, Z: 3}, a.Position)
}

func TestDetailedInfoRoundTrip(t *testing.T) {
	t.Parallel()

	in := DetailedInfo{
		ID:    "a1",
		Title: "Replace filter",
		Steps: []Step{
			{Text: "open cover", MediaURLs: []string{"u0", "u1"}},
			{Text: "swap"},
		},
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := DecodeDetailedInfo("a1", data)
	require.NoError(t, err)
	assert.Equal(t, in.Title, out.Title)
	require.Len(t, out.Steps, 2)
	assert.Equal(t, []string{"u0", "u1"}, out.Steps[0].MediaURLs)
	assert.Empty(t, out.Steps[1].MediaURLs)
	assert.Equal(t, []string{"u0", "u1"}, out.MediaURLs())
}

func TestProcedureRoundTrip(t *testing.T) {
	t.Parallel()

	pos := geom.Vec3{X: 0.5, Y: 0, Z: -0.5}
	in := Procedure{
		Kind:          KindAI,
		ID:            "p1",
		Name:          "Daily check",
		ContainerName: "pump-a",
		ContainerID:   "legacy-42",
		CreatedAt:     time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC),
		Steps: []ProcedureStep{
			{Description: "inspect seal", Position: &pos, Media: []Media{{URL: "m0", Type: "image", Name: "seal.jpg"}}},
			{Description: "log pressure"},
		},
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := DecodeProcedure(KindAI, "p1", data)
	require.NoError(t, err)
	assert.Equal(t, KindAI, out.Kind)
	assert.Equal(t, in.ContainerID, out.ContainerID)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.Len(t, out.Steps, 2)
	require.NotNil(t, out.Steps[0].Position)
	assert.Equal(t, pos, *out.Steps[0].Position)
	assert.Nil(t, out.Steps[1].Position)
	assert.Equal(t, []string{"m0"}, out.MediaURLs())
}

func TestDecodeProcedureRejectsBadTimestamp(t *testing.T) {
	t.Parallel()

	_, err := DecodeProcedure(KindManual, "p", []byte(`{"name":"n","containerName":"c","createdAt":"yesterday"}`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestProcedureKindCollection(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CollectionProcedures, KindManual.Collection())
	assert.Equal(t, CollectionAIProcedures, KindAI.Collection())
	assert.False(t, ProcedureKind("other").Valid())
	assert.Equal(t, "p1#2", StepPinID("p1", 1))
}
