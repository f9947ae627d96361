package videoframe

// Open resolves a URI per spec.md §4.1: a file path for bounded analysis,
// or a device index / live URL for unbounded monitoring, chosen by the
// live flag. The Session Manager does not use it: it calls OpenFile and
// OpenLive directly.
func Open(uri string, live bool, opts Options) (Source, error) {
	if live {
		return OpenLive(uri, opts)
	}
	return OpenFile(uri, opts)
}
