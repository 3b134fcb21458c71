//go:build !unix

package stack

func platformLayerTypes() []LayerType {
	return nil
}
