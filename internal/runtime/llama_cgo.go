//go:build llama

package runtime

// cgo link directives for the llama backend.
// - rpath of $ORIGIN so libllama.so is found next to the binary (./bin).
// - -L${SRCDIR}/../../bin so the linker finds libllama.so at link time.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
