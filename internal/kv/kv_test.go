package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetMissingKey(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	v := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", v))
	v[0] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestDeletePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, HistoryKey("a"), []byte("1")))
	require.NoError(t, m.Set(ctx, UserPrefix("a")+"other", []byte("2")))
	require.NoError(t, m.Set(ctx, HistoryKey("b"), []byte("3")))
	require.NoError(t, m.Set(ctx, ThemeKey(), []byte("dark")))

	n, err := DeletePrefix(ctx, m, UserPrefix("a"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := m.Keys(ctx, Root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{HistoryKey("b"), ThemeKey()}, keys)
}

func TestKeys_AreVersionedAndUserScoped(t *testing.T) {
	assert.Equal(t, "chatnil.v3.user_42.history", HistoryKey("42"))
	assert.NotContains(t, HistoryKey("4"), UserPrefix("42"))
	assert.False(t, strings.HasPrefix(HistoryKey("42"), UserPrefix("4")))
}

func TestKeys_UserIDsCannotReachAnotherScope(t *testing.T) {
	assert.Equal(t, "chatnil.v3.user_a%2Eb.history", HistoryKey("a.b"))
	assert.False(t, strings.HasPrefix(HistoryKey("a.b"), UserPrefix("a")))
	assert.NotEqual(t, UserPrefix("a%2Eb"), UserPrefix("a.b"))

	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, HistoryKey("a"), []byte("1")))
	require.NoError(t, m.Set(ctx, HistoryKey("a.b"), []byte("2")))

	n, err := DeletePrefix(ctx, m, UserPrefix("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	v, err := m.Get(ctx, HistoryKey("a.b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

type xorCipher struct{ fail bool }

func (c xorCipher) Encrypt(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	for i := range p {
		out[i] = p[i] ^ 0x5a
	}
	return out, nil
}

func (c xorCipher) Decrypt(p []byte) ([]byte, error) {
	if c.fail {
		return nil, errors.New("bad key")
	}
	return c.Encrypt(p)
}

func TestSealed_EncryptsValues(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	s := NewSealed(inner, xorCipher{})

	require.NoError(t, s.Set(ctx, "k", []byte("secret")))

	raw, err := inner.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", string(raw))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSealed_DecryptFailure(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	require.NoError(t, NewSealed(inner, xorCipher{}).Set(ctx, "k", []byte("v")))

	_, err := NewSealed(inner, xorCipher{fail: true}).Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPreferences_Defaults(t *testing.T) {
	ctx := context.Background()
	p := NewPreferences(NewMemory())

	assert.Equal(t, DefaultSidebarWidth, p.SidebarWidth(ctx))
	assert.Equal(t, ThemeSystem, p.Theme(ctx))
	h, err := p.NavigationHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestPreferences_SidebarWidthClamped(t *testing.T) {
	ctx := context.Background()
	p := NewPreferences(NewMemory())

	require.NoError(t, p.SetSidebarWidth(ctx, 10))
	assert.Equal(t, MinSidebarWidth, p.SidebarWidth(ctx))
	require.NoError(t, p.SetSidebarWidth(ctx, 10000))
	assert.Equal(t, MaxSidebarWidth, p.SidebarWidth(ctx))
	require.NoError(t, p.SetSidebarWidth(ctx, 320))
	assert.Equal(t, 320, p.SidebarWidth(ctx))
}

func TestPreferences_Theme(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := NewPreferences(m)

	require.NoError(t, p.SetTheme(ctx, ThemeDark))
	assert.Equal(t, ThemeDark, p.Theme(ctx))
	assert.Error(t, p.SetTheme(ctx, "neon"))

	require.NoError(t, m.Set(ctx, ThemeKey(), []byte("neon")))
	assert.Equal(t, ThemeSystem, p.Theme(ctx))
}

func TestPreferences_NavigationHistoryBounded(t *testing.T) {
	ctx := context.Background()
	p := NewPreferences(NewMemory())

	for i := 0; i < MaxNavigationHistory+5; i++ {
		require.NoError(t, p.PushNavigation(ctx, fmt.Sprintf("/chat/%d", i)))
	}
	require.NoError(t, p.PushNavigation(ctx, fmt.Sprintf("/chat/%d", MaxNavigationHistory+4)))

	h, err := p.NavigationHistory(ctx)
	require.NoError(t, err)
	require.Len(t, h, MaxNavigationHistory)
	assert.Equal(t, "/chat/5", h[0])
	assert.Equal(t, fmt.Sprintf("/chat/%d", MaxNavigationHistory+4), h[len(h)-1])
}
