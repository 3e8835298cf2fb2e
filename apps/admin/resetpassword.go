package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	admin, err := cli.schools.GetAdmin(ctx, uname)
	if err != nil {
		return err
	}
	info, err := cli.schools.GetInfo(ctx, admin.SchoolID)
	if err != nil {
		return err
	}
	if err = cli.checkPassword(admin.Username, info.Name, pwd); err != nil {
		return err
	}
	if err = cli.schools.SetAdminPassword(ctx, admin.Username, pwd); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "password updated for %s\n", admin.Username)
	return nil
}
