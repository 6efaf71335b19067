//go:build !linux

package jobsched

func PinToCPU(cpu int) error {
	return ErrPinUnsupported
}
