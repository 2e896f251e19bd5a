// See ctxproxy.go for the command set and wire format.
package ctxproxy
