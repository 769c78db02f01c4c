// Package script runs install script statements in a strict bash shell.
package script
