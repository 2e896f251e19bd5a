// See prepare.go for input validation and the execution creation/compile
// sequence.
package prepare
