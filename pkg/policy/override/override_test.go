package override

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/openfroyo/safeguards/pkg/policy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	approved int
	failures []string
}

func (r *recorder) Approve()            { r.approved++ }
func (r *recorder) Fail(message string) { r.failures = append(r.failures, message) }

func testSnapshot() *engine.Snapshot {
	return &engine.Snapshot{
		Declaration: map[string]interface{}{
			"service": "svc",
			"functions": map[string]interface{}{
				"hello": map[string]interface{}{"handler": "handler.hello", "memorySize": float64(1024)},
			},
		},
		Compiled:         map[string]interface{}{},
		Provider:         engine.ProviderContext{Name: "aws", Stage: "prod", Region: "eu-west-1"},
		FrameworkVersion: "3.38.0",
	}
}

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func TestLoadNotFound(t *testing.T) {
	loader := newTestLoader()
	dir := t.TempDir()

	for _, name := range []string{"missing", "../escape", ".hidden"} {
		_, err := loader.Load(context.Background(), dir, name)
		assert.True(t, errors.Is(err, policy.ErrNotFound), "name %q: %v", name, err)
	}

	_, err := loader.Load(context.Background(), "", "anything")
	assert.True(t, errors.Is(err, policy.ErrNotFound))
}

func TestRegoPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stage-guard.rego", `package safeguards.stage_guard

deny[msg] {
	input.provider.stage == input.options.forbidden
	msg := sprintf("stage %s is frozen", [input.provider.stage])
}

deny[msg] {
	fn := input.declaration.functions[name]
	fn.memorySize > input.options.maxMemory
	msg := {"message": sprintf("function %s uses too much memory", [name])}
}
`)
	writeFile(t, dir, "stage-guard.docs", "https://docs.example.com/stage-guard\n")

	def, err := newTestLoader().Load(context.Background(), dir, "stage-guard")
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com/stage-guard", def.DocsURL)
	assert.Equal(t, filepath.Join(dir, "stage-guard.rego"), def.Origin)

	rec := &recorder{}
	err = def.Func(context.Background(), rec, testSnapshot(), map[string]interface{}{"forbidden": "prod", "maxMemory": 512})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.approved)
	assert.ElementsMatch(t, []string{"stage prod is frozen", "function hello uses too much memory"}, rec.failures)

	rec = &recorder{}
	err = def.Func(context.Background(), rec, testSnapshot(), map[string]interface{}{"forbidden": "dev", "maxMemory": 2048})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.approved)
	assert.Empty(t, rec.failures)
}

func TestRegoPolicyParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.rego", "package broken\n\ndeny[msg] {\n")

	_, err := newTestLoader().Load(context.Background(), dir, "broken")
	require.Error(t, err)
	assert.False(t, errors.Is(err, policy.ErrNotFound))
}

func TestStarlarkPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "max-functions.star", `
def policy(handle, snapshot, options):
    functions = snapshot["declaration"]["functions"]
    if len(functions) > options["max"]:
        handle.fail("service %s declares %d functions" % (snapshot["declaration"]["service"], len(functions)))
        return
    handle.approve()
`)

	def, err := newTestLoader().Load(context.Background(), dir, "max-functions")
	require.NoError(t, err)
	assert.Empty(t, def.DocsURL)

	rec := &recorder{}
	require.NoError(t, def.Func(context.Background(), rec, testSnapshot(), map[string]interface{}{"max": 0}))
	assert.Equal(t, []string{"service svc declares 1 functions"}, rec.failures)

	rec = &recorder{}
	require.NoError(t, def.Func(context.Background(), rec, testSnapshot(), map[string]interface{}{"max": 5}))
	assert.Equal(t, 1, rec.approved)
}

func TestStarlarkPolicyRuntimeError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "crash.star", `
def policy(handle, snapshot, options):
    return snapshot["missing"]
`)

	def, err := newTestLoader().Load(context.Background(), dir, "crash")
	require.NoError(t, err)
	assert.Error(t, def.Func(context.Background(), &recorder{}, testSnapshot(), nil))
}

func TestStarlarkPolicyRequiresEntryPoint(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "noop.star", "x = 1\n")

	_, err := newTestLoader().Load(context.Background(), dir, "noop")
	assert.Error(t, err)
}

func TestStarlarkPolicyCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "spin.star", `
def policy(handle, snapshot, options):
    for i in range(1000000000):
        pass
`)

	def, err := newTestLoader().Load(context.Background(), dir, "spin")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, def.Func(ctx, &recorder{}, testSnapshot(), nil))
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dual.rego", "package dual\n\ndeny[msg] {\n\tfalse\n\tmsg := \"never\"\n}\n")
	writeFile(t, dir, "dual.star", "def policy(handle, snapshot, options):\n    handle.fail(\"star\")\n")

	def, err := newTestLoader().Load(context.Background(), dir, "dual")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dual.rego"), def.Origin)
}

func TestWasmPolicy(t *testing.T) {
	dir := t.TempDir()
	verdict := `{"approved":false,"failures":["wasm says no"]}`
	writeFile(t, dir, "native.wasm", string(verdictModule(verdict)))

	loader := newTestLoader()
	defer loader.Close(context.Background())

	def, err := loader.Load(context.Background(), dir, "native")
	require.NoError(t, err)

	rec := &recorder{}
	require.NoError(t, def.Func(context.Background(), rec, testSnapshot(), nil))
	assert.Equal(t, []string{"wasm says no"}, rec.failures)
	assert.Equal(t, 0, rec.approved)
}

func TestWasmPolicyError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "erroring.wasm", string(verdictModule(`{"error":"bad input"}`)))

	def, err := newTestLoader().Load(context.Background(), dir, "erroring")
	require.NoError(t, err)
	assert.ErrorContains(t, def.Func(context.Background(), &recorder{}, testSnapshot(), nil), "bad input")
}

func TestWasmPolicyInvalidModule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fake.wasm", "not a wasm module")

	_, err := newTestLoader().Load(context.Background(), dir, "fake")
	require.Error(t, err)
	assert.False(t, errors.Is(err, policy.ErrNotFound))
}

// verdictModule assembles a module whose safeguard_evaluate returns a fixed
// verdict stored at offset 16 of its memory. malloc always hands out 1024.
func verdictModule(verdict string) []byte {
	const dataOffset = 16

	section := func(id byte, content []byte) []byte {
		return append(append([]byte{id}, uleb(uint64(len(content)))...), content...)
	}
	name := func(s string) []byte {
		return append(uleb(uint64(len(s))), s...)
	}
	body := func(code ...byte) []byte {
		b := append([]byte{0x00}, code...)
		b = append(b, 0x0b)
		return append(uleb(uint64(len(b))), b...)
	}

	i32, i64 := byte(0x7f), byte(0x7e)
	types := []byte{0x03,
		0x60, 0x01, i32, 0x01, i32, // malloc
		0x60, 0x01, i32, 0x00, // free
		0x60, 0x02, i32, i32, 0x01, i64, // safeguard_evaluate
	}
	funcs := []byte{0x03, 0x00, 0x01, 0x02}
	memory := []byte{0x01, 0x00, 0x01}

	exports := []byte{0x04}
	exports = append(append(exports, name("memory")...), 0x02, 0x00)
	exports = append(append(exports, name("malloc")...), 0x00, 0x00)
	exports = append(append(exports, name("free")...), 0x00, 0x01)
	exports = append(append(exports, name(evaluateExport)...), 0x00, 0x02)

	packed := int64(dataOffset)<<32 | int64(len(verdict))
	code := []byte{0x03}
	code = append(code, body(append([]byte{0x41}, sleb(1024)...)...)...)
	code = append(code, body()...)
	code = append(code, body(append([]byte{0x42}, sleb(packed)...)...)...)

	data := []byte{0x01, 0x00, 0x41}
	data = append(data, sleb(dataOffset)...)
	data = append(data, 0x0b)
	data = append(data, name(verdict)...)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, types)...)
	out = append(out, section(3, funcs)...)
	out = append(out, section(5, memory)...)
	out = append(out, section(7, exports)...)
	out = append(out, section(10, code)...)
	out = append(out, section(11, data)...)
	return out
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
