// Package hostmem reads host physical-memory totals for adaptive cache
// sizing.
package hostmem

import "github.com/shirou/gopsutil/v4/mem"

// Total returns the host's total physical memory in bytes.
func Total() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}
