package main

import (
	"context"
	"fmt"
	"text/tabwriter"
)

// addAdmin binds a new admin username to an existing school.
func (cli *commandLine) addAdmin(schoolID, uname, pwd string) error {
	ctx := context.Background()
	info, err := cli.schools.GetInfo(ctx, schoolID)
	if err != nil {
		return err
	}
	if err = cli.checkPassword(uname, info.Name, pwd); err != nil {
		return err
	}
	admin, err := cli.schools.AddAdmin(ctx, schoolID, uname, pwd)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "admin %s added to %s\n", admin.Username, info.Name)
	return nil
}

func (cli *commandLine) deleteSchool(schoolID string) error {
	if err := cli.schools.DeleteTenant(context.Background(), schoolID); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "school %s deleted\n", schoolID)
	return nil
}

func (cli *commandLine) listSchools(search string) error {
	entries, err := cli.schools.Registry(context.Background(), search)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUSERNAME\tOWNER\tPHONE\tBATCHES\tSTUDENTS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			e.ID, e.Info.Name, e.Username, e.Info.Owner, e.Info.Phone, e.Batches, e.Students)
	}
	return w.Flush()
}
