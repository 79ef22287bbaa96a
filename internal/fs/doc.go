// Package fs is the file layer under segment files.
//
// [LocalFS] forwards to the os package and is the default. [FaultyFS]
// wraps another FileSystem and fails writes, truncates or syncs on files
// whose name matches a rule, which is how segment growth failures are
// tested:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".seg", fs.Fault{FailOnTruncate: true})
//	seg, err := segment.Open(path, segment.WithFileSystem(ffs))
//
// Local file calls are short and take no context.Context.
package fs
