// Package validator checks a build specification and the tool settings before a build.
package validator
