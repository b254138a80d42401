package paramstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/FelipeJared/mechOS/internal/controlrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

func TestStore_NoDatabase(t *testing.T) {
	s := New()

	_, err := s.Get("pid/roll/p")
	assert.ErrorIs(t, err, ErrNoDatabase)
	assert.ErrorIs(t, s.Set("pid/roll/p", "1.0"), ErrNoDatabase)
	assert.Empty(t, s.Database())
}

func TestStore_SetGet(t *testing.T) {
	file := filepath.Join(t.TempDir(), "params.yaml")
	s := New()
	require.NoError(t, s.UseDatabase(file))

	_, err := os.Stat(file)
	assert.True(t, os.IsNotExist(err), "file is created lazily")

	require.NoError(t, s.Set("pid/roll/p", "0.5"))
	require.NoError(t, s.Set("pid/roll/i", "0.01"))
	require.NoError(t, s.Set("/pid/pitch/p/", "2"))

	v, err := s.Get("pid/roll/p")
	require.NoError(t, err)
	assert.Equal(t, "0.5", v)

	v, err = s.Get("pid/pitch/p")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	require.NoError(t, s.Set("pid/roll/p", "0.75"))
	v, err = s.Get("pid/roll/p")
	require.NoError(t, err)
	assert.Equal(t, "0.75", v)

	_, err = s.Get("pid/yaw/p")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("pid/roll/p/extra")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("pid/roll")
	assert.ErrorIs(t, err, ErrNotLeaf)
}

func TestStore_Persists(t *testing.T) {
	file := filepath.Join(t.TempDir(), "params.yaml")
	s := New()
	require.NoError(t, s.UseDatabase(file))
	require.NoError(t, s.Set("camera/fps", "30"))
	require.NoError(t, s.Set("camera/name", "front"))

	data, err := os.ReadFile(file)
	require.NoError(t, err)

	var tree map[string]map[string]string
	require.NoError(t, yaml.Unmarshal(data, &tree))
	assert.Equal(t, "30", tree["camera"]["fps"])
	assert.Equal(t, "front", tree["camera"]["name"])

	reopened := New()
	require.NoError(t, reopened.UseDatabase(file))
	v, err := reopened.Get("camera/fps")
	require.NoError(t, err)
	assert.Equal(t, "30", v)

	entries, err := os.ReadDir(filepath.Dir(file))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestStore_ExistingDocument(t *testing.T) {
	file := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(file, []byte("thrusters:\n  count: 8\n  gain: 0.4\n"), 0o644))

	s := New()
	require.NoError(t, s.UseDatabase(file))

	v, err := s.Get("thrusters/count")
	require.NoError(t, err)
	assert.Equal(t, "8", v)
}

func TestStore_Conflicts(t *testing.T) {
	s := New()
	require.NoError(t, s.UseDatabase(filepath.Join(t.TempDir(), "params.yaml")))
	require.NoError(t, s.Set("a/b", "1"))

	assert.ErrorIs(t, s.Set("a/b/c", "2"), ErrNotMapping)
	assert.ErrorIs(t, s.Set("a", "3"), ErrNotLeaf)
	assert.ErrorIs(t, s.Set("a//b", "4"), ErrInvalidPath)
	assert.ErrorIs(t, s.Set("", "5"), ErrInvalidPath)
}

func TestStore_FailedWriteLeavesTree(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	require.NoError(t, os.Mkdir(dir, 0o755))
	s := New()
	require.NoError(t, s.UseDatabase(filepath.Join(dir, "params.yaml")))
	require.NoError(t, s.Set("pid/roll/p", "0.5"))

	require.NoError(t, os.RemoveAll(dir))
	assert.Error(t, s.Set("pid/roll/p", "9"))
	assert.Error(t, s.Set("pid/yaw/p", "1"))

	v, err := s.Get("pid/roll/p")
	require.NoError(t, err)
	assert.Equal(t, "0.5", v)
	_, err = s.Get("pid/yaw/p")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Aliases(t *testing.T) {
	file := filepath.Join(t.TempDir(), "params.yaml")
	doc := "base: &gains\n  p: 1\nroll: *gains\n"
	require.NoError(t, os.WriteFile(file, []byte(doc), 0o644))

	s := New()
	require.NoError(t, s.UseDatabase(file))
	require.NoError(t, s.Set("base/p", "2"))

	v, err := s.Get("roll/p")
	require.NoError(t, err)
	assert.Equal(t, "2", v, "alias still shares its anchor")
}

func TestStore_Malformed(t *testing.T) {
	file := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(file, []byte("- just\n- a list\n"), 0o644))

	assert.ErrorIs(t, New().UseDatabase(file), ErrMalformed)
	assert.ErrorIs(t, New().UseDatabase(""), ErrInvalidPath)
}

func TestService(t *testing.T) {
	svc := &Service{Store: New()}
	ctx := context.Background()

	_, err := svc.SetParam(ctx, &controlrpc.SetParamRequest{Path: "x", Value: "1"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	reply, err := svc.UseParameterDatabase(ctx, &controlrpc.UseDatabaseRequest{Path: filepath.Join(t.TempDir(), "p.yaml")})
	require.NoError(t, err)
	assert.True(t, reply.OK)

	_, err = svc.SetParam(ctx, &controlrpc.SetParamRequest{Path: "nav/depth", Value: "3.5"})
	require.NoError(t, err)

	got, err := svc.GetParam(ctx, &controlrpc.GetParamRequest{Path: "nav/depth"})
	require.NoError(t, err)
	assert.Equal(t, &controlrpc.GetParamReply{Value: "3.5", Found: true}, got)

	got, err = svc.GetParam(ctx, &controlrpc.GetParamRequest{Path: "nav/heading"})
	require.NoError(t, err)
	assert.False(t, got.Found)

	_, err = svc.GetParam(ctx, &controlrpc.GetParamRequest{Path: "//"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
