//go:build llama

package engine

// Link against libllama next to the binary: rpath $ORIGIN for the runtime
// loader, -L bin/ for the linker.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
