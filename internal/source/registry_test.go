package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlegis/lexarc/internal/law"
)

type fakeSource struct{ name string }

func (f fakeSource) Name() string { return f.name }

func (f fakeSource) Discover(context.Context, law.DiscoverRequest) ([]law.RawItem, error) {
	return nil, nil
}

func (f fakeSource) FetchDocument(context.Context, *law.Record) ([]byte, error) {
	return nil, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(fakeSource{name: "rondonia"}))

	src, err := reg.Lookup("rondonia")
	require.NoError(t, err)
	assert.Equal(t, "rondonia", src.Name())
}

func TestRegistryRejectsDuplicatesAndEmptyNames(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(fakeSource{name: "rondonia"}))
	assert.Error(t, reg.Register(fakeSource{name: "rondonia"}))
	assert.Error(t, reg.Register(fakeSource{name: ""}))
}

func TestRegistryLookupUnknown(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, err := reg.Lookup("acre")
	assert.ErrorIs(t, err, law.ErrSourceNotRegistered)
}

func TestRegistryNamesSorted(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(fakeSource{name: "rondonia"}))
	require.NoError(t, reg.Register(fakeSource{name: "acre"}))
	assert.Equal(t, []string{"acre", "rondonia"}, reg.Names())
}
