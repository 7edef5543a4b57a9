package sftp

// Request methods dispatched by the request server to the handlers.
//
// Get and Put open a file for reading or writing.
// Setstat, Rename, Rmdir, Mkdir, Link, Symlink and Remove go to Filecmd.
// List, Stat, Lstat and Readlink go to Filelist.
const (
	MethodGet      = "Get"
	MethodPut      = "Put"
	MethodSetstat  = "Setstat"
	MethodRename   = "Rename"
	MethodRmdir    = "Rmdir"
	MethodMkdir    = "Mkdir"
	MethodLink     = "Link"
	MethodSymlink  = "Symlink"
	MethodRemove   = "Remove"
	MethodList     = "List"
	MethodStat     = "Stat"
	MethodLstat    = "Lstat"
	MethodReadlink = "Readlink"
)
