package main

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// hashPassword prints a bcrypt hash suitable for the ADMINPASSWORD setting,
// so the plaintext never has to live in the environment.
func (cli *commandLine) hashPassword(pwd []byte) error {
	hash, err := bcrypt.GenerateFromPassword(pwd, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}
