// Package stack assembles address space layers into stacks, either by
// autodetecting the format of a memory image or from an explicit
// layer specification, and resolves address spaces by name.
//
// Autodetection
//
// Builder.Guess performs a greedy search in rounds. In each round, the
// image layer types are tried in ascending order, each on top of the
// stack built so far. The first type that does not reject its base
// becomes the new top of the stack and the next round begins. The
// search ends when every type rejects the current stack:
//
//	round 1: lime (rejected: no base), file (accepted)
//	round 2: lime (accepted)
//	round 3: lime (rejected: bad magic), file (rejected: not bottom-most),
//	         pagefile (rejected: no pagefile was specified)
//	result:  file:lime
//
// An error that is not a rejection ends the search immediately.
package stack

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/stephen-fox/vtop/addrspace"
)

// DefaultMaxDepth is the default maximum number of layers that
// autodetection will stack.
const DefaultMaxDepth = 10

// ErrNoLayers is returned by NewSession when autodetection did not
// stack any layer.
var ErrNoLayers = errors.New("no layer type accepted the image")

// Rejection records a layer type that rejected construction during
// autodetection.
type Rejection struct {
	Round  int
	Layer  string
	Reason string
}

func (o Rejection) String() string {
	return fmt.Sprintf("round %d: %s - %s", o.Round, o.Layer, o.Reason)
}

// NewBuilder creates a Builder for the layer types in registry.
// The options are passed to every layer constructor.
func NewBuilder(registry *Registry, options Options) *Builder {
	return &Builder{
		registry: registry,
		options:  options,
		MaxDepth: DefaultMaxDepth,
	}
}

// Builder builds stacks of address spaces.
type Builder struct {
	// MaxDepth bounds the number of autodetection rounds.
	MaxDepth int

	registry   *Registry
	options    Options
	rejections []Rejection
}

// Rejections returns the rejections recorded by the last call
// to Guess.
func (o *Builder) Rejections() []Rejection {
	return o.rejections
}

// Guess autodetects the stack of physical layers. The stack is nil,
// with a nil error, when no layer type accepts the first round.
func (o *Builder) Guess() (addrspace.AddressSpace, error) {
	o.rejections = nil

	candidates := o.registry.ImageTypes()

	var current addrspace.AddressSpace

	for round := 1; round <= o.MaxDepth; round++ {
		o.logf("autodetection round %d on top of %s", round, addrspace.Describe(current))

		next, accepted, err := o.vote(round, current, candidates)
		if err != nil {
			if current != nil {
				_ = Close(current)
			}
			return nil, err
		}

		if !accepted {
			break
		}

		current = next
	}

	if current == nil {
		o.logf("no layer type accepted the image")
		return nil, nil
	}

	o.logf("autodetected stack: %s", addrspace.Describe(current))

	return current, nil
}

// vote tries each candidate on top of base and returns the first
// layer that was constructed.
func (o *Builder) vote(round int, base addrspace.AddressSpace, candidates []LayerType) (addrspace.AddressSpace, bool, error) {
	for _, candidate := range candidates {
		layer, err := candidate.NewFn(base, o.options)
		if err != nil {
			var rejected *addrspace.RejectedError
			if errors.As(err, &rejected) {
				o.rejections = append(o.rejections, Rejection{
					Round:  round,
					Layer:  candidate.Name,
					Reason: rejected.Reason,
				})

				o.logf("%s rejected - %s", candidate.Name, rejected.Reason)

				continue
			}

			return nil, false, fmt.Errorf("failed to construct %s layer - %w", candidate.Name, err)
		}

		o.logf("%s accepted", candidate.Name)

		return layer, true, nil
	}

	return nil, false, nil
}

// FromSpec builds a stack from a colon-separated list of layer type
// names, bottom-most layer first. For example:
//
//	file:lime:windows_amd64
//
// A *addrspace.LookupError is returned if a name is not registered.
func (o *Builder) FromSpec(spec string) (addrspace.AddressSpace, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, errors.New("layer specification is empty")
	}

	var types []LayerType
	for _, name := range strings.Split(spec, ":") {
		layerType, err := o.registry.Lookup(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}

		types = append(types, layerType)
	}

	var current addrspace.AddressSpace

	for _, layerType := range types {
		layer, err := layerType.NewFn(current, o.options)
		if err != nil {
			if current != nil {
				_ = Close(current)
			}
			return nil, fmt.Errorf("failed to construct %s layer - %w", layerType.Name, err)
		}

		o.logf("stacked %s", layerType.Name)

		current = layer
	}

	return current, nil
}

func (o *Builder) logf(format string, a ...interface{}) {
	if o.options.OptLogger != nil {
		o.options.OptLogger.Printf(format, a...)
	}
}

// Close closes a stack from the top down. Translators do not own
// their base, so each layer is closed until the first layer that
// is not virtual, which closes the layers below it itself.
func Close(as addrspace.AddressSpace) error {
	for layer := as; layer != nil; layer = layer.Base() {
		err := layer.Close()
		if err != nil {
			return fmt.Errorf("failed to close %s layer - %w", layer.Name(), err)
		}

		if !layer.Flags().Has(addrspace.VirtualFlag) {
			return nil
		}
	}

	return nil
}
