package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/questdeck-agent/internal/process"
)

type fakeGames struct {
	procs []process.ProcessInfo
	err   error
}

func (f *fakeGames) Games(ctx context.Context) ([]process.ProcessInfo, error) {
	return f.procs, f.err
}

func TestHostProvider_List(t *testing.T) {
	started := time.UnixMilli(5000)
	h := NewHostProvider(&fakeGames{procs: []process.ProcessInfo{
		{PID: 7, Name: "chess", Exe: "/usr/games/chess", CreateTime: started},
	}})

	list, err := h.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int32(7), list[0].PID)
	assert.Equal(t, "chess", list[0].ExeName)
	assert.Equal(t, int64(5000), list[0].Start)
	assert.False(t, list[0].Synthetic)

	found, ok := h.FindByPID(context.Background(), 7)
	assert.True(t, ok)
	assert.Equal(t, "chess", found.Name)

	_, ok = h.FindByPID(context.Background(), 8)
	assert.False(t, ok)
}

func TestHostProvider_ListError(t *testing.T) {
	h := NewHostProvider(&fakeGames{err: errors.New("denied")})

	_, err := h.List(context.Background())
	assert.Error(t, err)

	_, ok := h.FindByPID(context.Background(), 1)
	assert.False(t, ok)
}

func TestCell_Swap(t *testing.T) {
	a := &staticProvider{games: []Activity{{PID: 1}}}
	b := &staticProvider{games: []Activity{{PID: 2}}}
	cell := NewCell(a)

	prev := cell.Swap(b)
	assert.Same(t, Provider(a), prev)

	list, err := cell.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), list[0].PID)
}
