package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTemplate(name, version string) *Template {
	return &Template{
		Name:         name,
		WorkflowType: "demo",
		Description:  "Sample template",
		DefaultParams: map[string]any{
			"model":       "gpt-4",
			"temperature": 0.4,
		},
		Version: version,
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sampleTemplate("demo", "")))

	got, err := r.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", got.Version, "empty version defaults")
	assert.False(t, got.CreatedAt.IsZero())

	// The registry hands out clones; mutating one must not leak back.
	got.DefaultParams["model"] = "clobbered"
	again, err := r.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", again.DefaultParams["model"])
}

func TestRegistryDuplicateVersion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sampleTemplate("demo", "1.0.0")))

	err := r.Register(sampleTemplate("demo", "1.0.0"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateExists)
	assert.Contains(t, err.Error(), "already exists")
}

func TestRegistryVersioning(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sampleTemplate("demo", "1.0.0")))
	require.NoError(t, r.Register(sampleTemplate("demo", "2.0.0")))

	got, err := r.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", got.Version)

	old, err := r.GetVersion("demo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", old.Version)

	assert.Equal(t, []string{"1.0.0", "2.0.0"}, r.Versions("demo"))

	// Latest means most recently registered, not highest number.
	require.NoError(t, r.Register(sampleTemplate("demo", "0.9.0")))
	got, err = r.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "0.9.0", got.Version)
}

func TestRegistryUpdate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sampleTemplate("demo", "1.0.0")))

	changed := sampleTemplate("demo", "1.0.0")
	changed.Description = "Updated"
	require.NoError(t, r.Update(changed))

	got, err := r.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "Updated", got.Description)

	missing := sampleTemplate("demo", "3.0.0")
	err = r.Update(missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sampleTemplate("demo", "1.0.0")))
	require.NoError(t, r.Register(sampleTemplate("demo", "2.0.0")))

	require.NoError(t, r.Remove("demo", "2.0.0"))
	got, err := r.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", got.Version)

	require.NoError(t, r.Remove("demo", "1.0.0"))
	_, err = r.Get("demo")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	err = r.Remove("demo", "1.0.0")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(sampleTemplate("zeta", "")))
	require.NoError(t, r.Register(sampleTemplate("alpha", "1.0.0")))
	require.NoError(t, r.Register(sampleTemplate("alpha", "1.1.0")))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "1.1.0", list[0].Version)
	assert.Equal(t, "zeta", list[1].Name)

	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())
	assert.Equal(t, 2, r.Count())
}

func TestRegistryRejectsBadInput(t *testing.T) {
	r := NewRegistry()

	err := r.Register(nil)
	require.Error(t, err)

	err = r.Register(&Template{WorkflowType: "demo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}
