package runtimes

import (
	"reflect"
	"slices"
	"testing"

	"github.com/rhuss/antwort-sandbox/pkg/api"
)

func TestDefaultsCoverEveryRuntime(t *testing.T) {
	defs := Defaults()
	for _, rt := range api.Runtimes() {
		d, ok := defs[rt]
		if !ok {
			t.Fatalf("no definition for %s", rt)
		}
		if d.Runtime != rt || len(d.Interpreter) == 0 || d.LibraryEnv == "" {
			t.Errorf("%s: incomplete definition %+v", rt, d)
		}
	}
}

func TestInstallArgs(t *testing.T) {
	defs := Defaults()

	py, err := defs[api.RuntimePython].InstallArgs("/ws/sess/.libs/python", "scikit-learn")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(py, "/ws/sess/.libs/python") || py[len(py)-1] != "scikit-learn" {
		t.Errorf("python install args = %v", py)
	}

	r, err := defs[api.RuntimeR].InstallArgs("/ws/sess/.libs/r", "data.table")
	if err != nil {
		t.Fatal(err)
	}
	want := "install.packages('data.table', lib='/ws/sess/.libs/r', repos='https://cloud.r-project.org', quiet=TRUE)"
	if r[len(r)-1] != want {
		t.Errorf("R install expression = %q", r[len(r)-1])
	}

	for _, bad := range []string{"", "x; rm -rf /", "pkg'", "-e"} {
		if _, err := defs[api.RuntimePython].InstallArgs("/t", bad); err == nil {
			t.Errorf("package %q accepted", bad)
		}
	}
	if _, err := defs[api.RuntimeR].InstallArgs("/t'x", "dplyr"); err == nil {
		t.Error("quoted target accepted")
	}
}

func TestApplyOverrides(t *testing.T) {
	defs, err := Apply(Defaults(), map[api.Runtime]Override{
		api.RuntimePython: {Interpreter: []string{"/opt/py/bin/python"}, IndexURL: "https://mirror.local/simple", Env: []string{"X=1"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	py := defs[api.RuntimePython]
	if !reflect.DeepEqual(py.Command("main.py"), []string{"/opt/py/bin/python", "main.py"}) {
		t.Errorf("command = %v", py.Command("main.py"))
	}
	if py.IndexURL != "https://mirror.local/simple" || !slices.Contains(py.Env, "X=1") || !slices.Contains(py.Env, "MPLBACKEND=Agg") {
		t.Errorf("override not merged: %+v", py)
	}
	if Defaults()[api.RuntimePython].IndexURL == py.IndexURL {
		t.Error("defaults were mutated")
	}

	if _, err := Apply(Defaults(), map[api.Runtime]Override{"julia": {}}); err == nil {
		t.Error("unknown runtime accepted")
	}
}

func TestEnvironment(t *testing.T) {
	env := Defaults()[api.RuntimeR].Environment("/ws/s/.libs/r")
	if !slices.Contains(env, "R_LIBS_USER=/ws/s/.libs/r") {
		t.Errorf("env = %v", env)
	}
	if got := Defaults()[api.RuntimeR].Environment(""); slices.ContainsFunc(got, func(s string) bool { return s == "R_LIBS_USER=" }) {
		t.Errorf("empty lib dir exported: %v", got)
	}
}
