package harness

import (
	"github.com/tklauser/go-sysconf"
)

func mustSysconf(name int) int64 {
	val, err := sysconf.Sysconf(name)
	if err != nil {
		panic(err)
	}
	return val
}

// memoryMB reports physical memory, used to size database buffers.
func memoryMB() int64 {
	return mustSysconf(sysconf.SC_PHYS_PAGES) * mustSysconf(sysconf.SC_PAGE_SIZE) / 1e6
}
