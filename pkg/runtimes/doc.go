// Package runtimes describes the supported interpreters and answers
// whether one is installed on the host.
//
// A [Definition] carries everything the rest of the sandbox needs to know
// about an interpreter: how to run a script, how to probe its version, how
// to install a package into a private library directory and which
// environment variables point it at that directory. [Prober] runs only the
// version probe; it never executes user code.
package runtimes
