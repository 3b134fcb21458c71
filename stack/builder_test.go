package stack

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/stephen-fox/vtop/addrspace"
)

type mockLayer struct {
	*addrspace.BufferLayer
	name   string
	base   addrspace.AddressSpace
	closed bool
}

func (o *mockLayer) Name() string {
	return o.name
}

func (o *mockLayer) Base() addrspace.AddressSpace {
	return o.base
}

func (o *mockLayer) Close() error {
	o.closed = true
	if o.base != nil {
		return o.base.Close()
	}
	return nil
}

type mockType struct {
	name  string
	order int
	calls int

	// acceptFn decides whether the type accepts base. When it
	// returns an error, that error is returned by the constructor.
	acceptFn func(base addrspace.AddressSpace) (bool, error)

	built []*mockLayer
}

func (o *mockType) layerType() LayerType {
	return LayerType{
		Name:  o.name,
		Order: o.order,
		Flags: addrspace.ImageFlag,
		NewFn: func(base addrspace.AddressSpace, _ Options) (addrspace.AddressSpace, error) {
			o.calls++

			accept, err := o.acceptFn(base)
			if err != nil {
				return nil, err
			}

			if !accept {
				return nil, addrspace.Rejectf(o.name, "not my format")
			}

			layer := &mockLayer{
				BufferLayer: addrspace.NewBufferLayerOrExit(addrspace.BufferLayerConfig{
					Data: make([]byte, 16),
				}),
				name: o.name,
				base: base,
			}

			o.built = append(o.built, layer)

			return layer, nil
		},
	}
}

func never(addrspace.AddressSpace) (bool, error) {
	return false, nil
}

func always(addrspace.AddressSpace) (bool, error) {
	return true, nil
}

func bottomOnly(base addrspace.AddressSpace) (bool, error) {
	return base == nil, nil
}

func newMockRegistry(t *testing.T, types ...*mockType) *Registry {
	t.Helper()

	registry := NewRegistry()
	for _, mock := range types {
		err := registry.Register(mock.layerType())
		if err != nil {
			t.Fatal(err)
		}
	}

	return registry
}

func TestBuilder_Guess(t *testing.T) {
	ten := &mockType{name: "ten", order: 10, acceptFn: never}
	twenty := &mockType{name: "twenty", order: 20, acceptFn: bottomOnly}
	thirty := &mockType{name: "thirty", order: 30, acceptFn: never}

	// Registration order differs from autodetection order.
	builder := NewBuilder(newMockRegistry(t, thirty, ten, twenty), Options{})

	as, err := builder.Guess()
	if err != nil {
		t.Fatal(err)
	}

	if s := addrspace.Describe(as); s != "twenty" {
		t.Fatalf("expected stack 'twenty' - got '%s'", s)
	}

	rejections := builder.Rejections()
	if len(rejections) != 4 {
		t.Fatalf("expected 4 rejections - got %d: %v", len(rejections), rejections)
	}

	for i, exp := range []Rejection{
		{Round: 1, Layer: "ten", Reason: "not my format"},
		{Round: 2, Layer: "ten", Reason: "not my format"},
		{Round: 2, Layer: "twenty", Reason: "not my format"},
		{Round: 2, Layer: "thirty", Reason: "not my format"},
	} {
		if rejections[i] != exp {
			t.Fatalf("rejection %d: expected %s - got %s", i, exp, rejections[i])
		}
	}

	if thirty.calls != 1 {
		t.Fatalf("expected thirty to be tried once - got %d", thirty.calls)
	}
}

func TestBuilder_GuessTiesUseRegistrationOrder(t *testing.T) {
	first := &mockType{name: "first", order: 10, acceptFn: bottomOnly}
	second := &mockType{name: "second", order: 10, acceptFn: bottomOnly}

	as, err := NewBuilder(newMockRegistry(t, first, second), Options{}).Guess()
	if err != nil {
		t.Fatal(err)
	}

	if as.Name() != "first" {
		t.Fatalf("expected 'first' - got '%s'", as.Name())
	}

	if second.calls != 1 {
		t.Fatalf("expected second to be tried once - got %d", second.calls)
	}
}

func TestBuilder_GuessStacksLayers(t *testing.T) {
	bottom := &mockType{name: "bottom", order: 10, acceptFn: bottomOnly}
	middle := &mockType{name: "middle", order: 20, acceptFn: func(base addrspace.AddressSpace) (bool, error) {
		return base != nil && base.Name() == "bottom", nil
	}}

	as, err := NewBuilder(newMockRegistry(t, middle, bottom), Options{}).Guess()
	if err != nil {
		t.Fatal(err)
	}

	if s := addrspace.Spec(as); s != "bottom:middle" {
		t.Fatalf("expected 'bottom:middle' - got '%s'", s)
	}
}

func TestBuilder_GuessUnexpectedErrorAborts(t *testing.T) {
	bottom := &mockType{name: "bottom", order: 10, acceptFn: bottomOnly}
	broken := &mockType{name: "broken", order: 20, acceptFn: func(base addrspace.AddressSpace) (bool, error) {
		if base == nil {
			return false, nil
		}
		return false, errors.New("disk on fire")
	}}
	last := &mockType{name: "last", order: 30, acceptFn: always}

	_, err := NewBuilder(newMockRegistry(t, bottom, broken, last), Options{}).Guess()
	if err == nil {
		t.Fatalf("expected an error")
	}

	if addrspace.IsRejected(err) {
		t.Fatalf("expected the error not to be a rejection - got %v", err)
	}

	if len(bottom.built) != 1 || !bottom.built[0].closed {
		t.Fatalf("expected the partially built stack to be closed")
	}

	// "last" accepts anything, but is tried only in round 1.
	if last.calls != 0 {
		t.Fatalf("expected last not to be tried - got %d calls", last.calls)
	}
}

func TestBuilder_GuessNoLayers(t *testing.T) {
	ten := &mockType{name: "ten", order: 10, acceptFn: never}

	as, err := NewBuilder(newMockRegistry(t, ten), Options{}).Guess()
	if err != nil {
		t.Fatal(err)
	}

	if as != nil {
		t.Fatalf("expected no stack - got %s", addrspace.Describe(as))
	}

	_, err = NewSession(SessionConfig{
		Registry: newMockRegistry(t, ten),
	})
	if !errors.Is(err, ErrNoLayers) {
		t.Fatalf("expected ErrNoLayers - got %v", err)
	}
}

func TestBuilder_GuessMaxDepth(t *testing.T) {
	greedy := &mockType{name: "greedy", order: 10, acceptFn: always}

	builder := NewBuilder(newMockRegistry(t, greedy), Options{})
	builder.MaxDepth = 3

	as, err := builder.Guess()
	if err != nil {
		t.Fatal(err)
	}

	if s := addrspace.Spec(as); s != "greedy:greedy:greedy" {
		t.Fatalf("expected 3 layers - got '%s'", s)
	}
}

func TestBuilder_FromSpec(t *testing.T) {
	bottom := &mockType{name: "bottom", order: 10, acceptFn: bottomOnly}
	top := &mockType{name: "top", order: 20, acceptFn: always}

	builder := NewBuilder(newMockRegistry(t, bottom, top), Options{})

	as, err := builder.FromSpec("bottom:top")
	if err != nil {
		t.Fatal(err)
	}

	if s := addrspace.Describe(as); s != "top -> bottom" {
		t.Fatalf("expected 'top -> bottom' - got '%s'", s)
	}
}

func TestBuilder_FromSpecUnknownLayer(t *testing.T) {
	bottom := &mockType{name: "bottom", order: 10, acceptFn: bottomOnly}

	builder := NewBuilder(newMockRegistry(t, bottom), Options{})

	_, err := builder.FromSpec("bottom:nope")
	if !addrspace.IsLookupFailure(err) {
		t.Fatalf("expected a lookup failure - got %v", err)
	}

	var lookup *addrspace.LookupError
	if errors.As(err, &lookup) && lookup.Name != "nope" {
		t.Fatalf("expected the lookup failure to name 'nope' - got '%s'", lookup.Name)
	}

	if bottom.calls != 0 {
		t.Fatalf("expected nothing to be constructed - got %d calls", bottom.calls)
	}

	_, err = builder.FromSpec("")
	if err == nil {
		t.Fatalf("expected an error for an empty specification")
	}
}

func TestBuilder_FromSpecRejection(t *testing.T) {
	bottom := &mockType{name: "bottom", order: 10, acceptFn: bottomOnly}

	_, err := NewBuilder(newMockRegistry(t, bottom), Options{}).FromSpec("bottom:bottom")
	if !addrspace.IsRejected(err) {
		t.Fatalf("expected a rejection - got %v", err)
	}

	if !bottom.built[0].closed {
		t.Fatalf("expected the partially built stack to be closed")
	}
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(LayerType{Name: "a", NewFn: newFileLayer})
	if err != nil {
		t.Fatal(err)
	}

	err = registry.Register(LayerType{Name: "a", NewFn: newFileLayer})
	if err == nil {
		t.Fatalf("expected an error for a duplicate name")
	}

	err = registry.Register(LayerType{Name: "b"})
	if err == nil {
		t.Fatalf("expected an error for a missing constructor")
	}

	_, err = registry.Lookup("b")
	if !addrspace.IsLookupFailure(err) {
		t.Fatalf("expected a lookup failure - got %v", err)
	}
}

func writeImage(t *testing.T, name string, data []byte) string {
	t.Helper()

	filePath := filepath.Join(t.TempDir(), name)

	err := os.WriteFile(filePath, data, 0o600)
	if err != nil {
		t.Fatal(err)
	}

	return filePath
}

func limeImage() []byte {
	image := addrspace.LimeHeader(0x1000, 16)
	return append(image, []byte("0123456789abcdef")...)
}

func TestGuess_Defaults(t *testing.T) {
	pagefilePath := writeImage(t, "pagefile.sys", make([]byte, 0x2000))

	for _, c := range []struct {
		name     string
		image    []byte
		pagefile string
		exp      string
	}{
		{"raw", make([]byte, 0x2000), "", "file"},
		{"lime", limeImage(), "", "file:lime"},
		{"lime with pagefile", limeImage(), pagefilePath, "file:lime:pagefile"},
	} {
		t.Run(c.name, func(t *testing.T) {
			builder := NewBuilder(DefaultRegistry(), Options{
				Filename:     writeImage(t, "image", c.image),
				PagefilePath: c.pagefile,
			})

			as, err := builder.Guess()
			if err != nil {
				t.Fatal(err)
			}
			defer Close(as)

			if s := addrspace.Spec(as); s != c.exp {
				t.Fatalf("expected '%s' - got '%s'", c.exp, s)
			}
		})
	}
}

func TestGuess_DefaultsLimeContents(t *testing.T) {
	builder := NewBuilder(DefaultRegistry(), Options{
		Filename: writeImage(t, "image.lime", limeImage()),
	})

	as, err := builder.Guess()
	if err != nil {
		t.Fatal(err)
	}
	defer Close(as)

	data, err := as.Read(0x1004, 4)
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "4567" {
		t.Fatalf("expected '4567' - got '%s'", data)
	}
}
