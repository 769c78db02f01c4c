// Package signer produces and checks detached OpenPGP signatures of package archives.
package signer
