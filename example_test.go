package fdtable_test

import (
	"fmt"

	"github.com/hupe1980/fdtable"
	"github.com/hupe1980/fdtable/testutil"
)

func Example() {
	tbl, err := fdtable.New()
	if err != nil {
		panic(err)
	}
	defer tbl.Drop()

	fd, _ := tbl.Allocate()
	_ = tbl.Install(fd, testutil.NewFile("stdin"))

	if f, ok := tbl.Lookup(fd); ok {
		fmt.Println(fd, f.(*testutil.File).Name())
	}
	// Output: 0 stdin
}

func ExampleTable_ExecTransition() {
	tbl, _ := fdtable.New()
	defer tbl.Drop()

	for _, name := range []string{"log", "secret"} {
		fd, _ := tbl.Allocate()
		_ = tbl.Install(fd, testutil.NewFile(name))
	}
	_ = tbl.SetCloseOnExec(1, true)

	fmt.Println("released:", tbl.ExecTransition())
	_, ok := tbl.Lookup(1)
	fmt.Println("secret open:", ok)
	// Output:
	// released: 1
	// secret open: false
}

func ExampleTable_Detach() {
	parent, _ := fdtable.New()
	defer parent.Drop()

	fd, _ := parent.Allocate()
	f := testutil.NewFile("pipe")
	_ = parent.Install(fd, f)

	child, _ := parent.Detach()
	defer child.Drop()

	fmt.Println("refs:", f.Refs())
	// Output: refs: 2
}
