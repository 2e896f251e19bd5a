// See builtin.go for the four built-in workflows and the lifecycle graph
// they share.
package builtin
