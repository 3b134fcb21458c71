// Package vtop translates virtual addresses found in memory images to
// physical addresses by walking page tables in software.
//
// APIs are separated into subpackages, and documented accordingly:
// addrspace provides physical layers (raw files, LiME, pagefiles),
// paging provides x86 and Windows translators, and stack autodetects
// and resolves address spaces.
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, an exit handler function is invoked.
package vtop
