package fluxio

// markFreed transitions a handle to its released state. A second release of
// the same handle is a programming error; the panic here is the double-free
// detector the API documents.
func markFreed(freed *bool, what string) {
	if *freed {
		panic("fluxio: double free of " + what)
	}
	*freed = true
}
