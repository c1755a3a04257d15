package hook

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adder struct{ base int }

func (a *adder) Add(x, y int) int { return a.base + x + y }

type greeter struct{ greeting string }

func (g greeter) Call(name string) string { return g.greeting + " " + name }

type widget struct{ name string }

func newWidget(name string) *widget { return &widget{name: name} }

func callOne(t *testing.T, fn any, params Params, kwargs Args) (any, error) {
	t.Helper()
	impl, err := NewImpl("plugin", "plugin", fn, params, ImplOpts{})
	require.NoError(t, err)
	return Multicall("h", []*Impl{impl}, kwargs, true)
}

func TestCallableShapes(t *testing.T) {
	tests := []struct {
		name   string
		fn     any
		params Params
		kwargs Args
		want   any
	}{
		{
			name:   "plain function",
			fn:     func(x int) int { return x * 2 },
			params: P("x"),
			kwargs: Args{"x": 4},
			want:   8,
		},
		{
			name:   "bound method",
			fn:     (&adder{base: 10}).Add,
			params: P("x", "y"),
			kwargs: Args{"x": 1, "y": 2},
			want:   13,
		},
		{
			name:   "callable object",
			fn:     greeter{greeting: "hello"},
			params: P("name"),
			kwargs: Args{"name": "world"},
			want:   "hello world",
		},
		{
			name:   "args func",
			fn:     ArgsFunc(func(a Args) (any, error) { return a["x"], nil }),
			params: P("x"),
			kwargs: Args{"x": "raw", "other": 1},
			want:   "raw",
		},
		{
			name:   "numeric conversion",
			fn:     func(x int) int { return x + 1 },
			params: P("x"),
			kwargs: Args{"x": 2.0},
			want:   3,
		},
		{
			name:   "defaults are zero",
			fn:     func(x int, y int) int { return x + y },
			params: Params{Args: []string{"x"}, Defaults: []string{"y"}},
			kwargs: Args{"x": 5, "y": 100},
			want:   5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := callOne(t, tt.fn, tt.params, tt.kwargs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConstructorImpl(t *testing.T) {
	got, err := callOne(t, newWidget, P("name"), Args{"name": "w"})
	require.NoError(t, err)
	require.IsType(t, &widget{}, got)
	assert.Equal(t, "w", got.(*widget).name)
}

func TestNewImplRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name   string
		fn     any
		params Params
	}{
		{"nil", nil, P()},
		{"not callable", 42, P()},
		{"arity mismatch", func(x, y int) {}, P("x")},
		{"variadic", func(xs ...int) {}, P("xs")},
		{"second result not error", func() (int, int) { return 0, 0 }, P()},
		{"too many results", func() (int, int, error) { return 0, 0, nil }, P()},
		{"duplicate names", func(x, y int) {}, P("x", "x")},
		{"empty name", func(x int) {}, P("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewImpl("p", "p", tt.fn, tt.params, ImplOpts{})
			assert.Error(t, err)
		})
	}
}

func TestArgumentTypeMismatch(t *testing.T) {
	_, err := callOne(t, func(x int) int { return x }, P("x"), Args{"x": "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `argument "x"`)

	lossy := []struct {
		name string
		fn   any
		arg  any
	}{
		{"fractional float to int", func(x int) int { return x }, 1.7},
		{"huge float to int", func(x int) int { return x }, 1e300},
		{"negative to uint", func(x uint) uint { return x }, -1.0},
		{"out of range int8", func(x int8) int8 { return x }, 300},
		{"overflowing float32", func(x float32) float32 { return x }, 1e300},
		{"nan to int", func(x int) int { return x }, math.NaN()},
	}
	for _, tt := range lossy {
		t.Run(tt.name, func(t *testing.T) {
			_, err := callOne(t, tt.fn, P("x"), Args{"x": tt.arg})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "cannot use")
		})
	}
}

func TestArgumentLosslessNumericConversion(t *testing.T) {
	got, err := callOne(t, func(x int) int { return x }, P("x"), Args{"x": 42.0})
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = callOne(t, func(x uint8) uint8 { return x }, P("x"), Args{"x": 255})
	require.NoError(t, err)
	assert.Equal(t, uint8(255), got)

	got, err = callOne(t, func(x float64) float64 { return x }, P("x"), Args{"x": 3})
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
}

func TestNilReturnIsDropped(t *testing.T) {
	impl, err := NewImpl("p", "p", func() *widget { return nil }, P(), ImplOpts{})
	require.NoError(t, err)
	got, err := Multicall("h", []*Impl{impl}, Args{}, false)
	require.NoError(t, err)
	assert.Equal(t, []any{}, got)
}

func TestReturnsFrame(t *testing.T) {
	c, err := newCallable(func() Frame { return Yield(nil) }, P())
	require.NoError(t, err)
	assert.True(t, c.returnsFrame())

	c, err = newCallable(WrapperFunc(func(Args) (Frame, error) { return nil, nil }), P())
	require.NoError(t, err)
	assert.True(t, c.returnsFrame())

	c, err = newCallable(func() int { return 1 }, P())
	require.NoError(t, err)
	assert.False(t, c.returnsFrame())
}

type boxed struct{ v any }

func TestSamePlugin(t *testing.T) {
	a := &adder{}
	assert.True(t, SamePlugin(a, a))
	assert.False(t, SamePlugin(a, &adder{}))
	assert.False(t, SamePlugin(nil, a))
	assert.True(t, SamePlugin(boxed{v: 1}, boxed{v: 1}))
	assert.False(t, SamePlugin(boxed{v: []int{1}}, boxed{v: []int{1}}))

	assert.True(t, Comparable(boxed{v: 1}))
	assert.False(t, Comparable(boxed{v: []int{1}}))
	assert.False(t, Comparable(nil))
}
