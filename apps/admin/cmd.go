package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/school"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp       = errors.New("help provided")
	errNoDatabase = errors.New("migrations need the postgres store backend")
)

type commandLine struct {
	db         *sql.DB // nil unless the store runs on postgres
	schools    *school.Service
	validate   *validator.Validate
	translator ut.Translator
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                     - run a goose migration command (up, down, status...)")
	fmt.Fprintln(cli.out, "  schools [-search TEXT]                     - list registered schools")
	fmt.Fprintln(cli.out, "  addadmin -username USERNAME -school ID     - bind a new admin to a school")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME           - reset an admin's password")
	fmt.Fprintln(cli.out, "  deleteschool -id ID                        - delete a school and its admins")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	schoolsCmd := flag.NewFlagSet("schools", flag.ContinueOnError)
	schoolsSearch := schoolsCmd.String("search", "", "Filter by school name, username, owner or phone.")

	addAdminCmd := flag.NewFlagSet("addadmin", flag.ContinueOnError)
	addAdminUname := addAdminCmd.String("username", "", "The new admin's username. The password will be prompted next.")
	addAdminSchool := addAdminCmd.String("school", "", "The school ID.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The admin's username. The password will be prompted next.")

	deleteSchoolCmd := flag.NewFlagSet("deleteschool", flag.ContinueOnError)
	deleteSchoolID := deleteSchoolCmd.String("id", "", "The school ID.")

	for _, fs := range []*flag.FlagSet{schoolsCmd, addAdminCmd, resetPasswordCmd, deleteSchoolCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "schools":
		if err := schoolsCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.listSchools(*schoolsSearch)

	case "addadmin":
		if err := addAdminCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addAdminUname == "" || *addAdminSchool == "" {
			addAdminCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addAdminCmd.Usage()
			return errHelp
		}
		return cli.addAdmin(*addAdminSchool, *addAdminUname, pwd)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "deleteschool":
		if err := deleteSchoolCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *deleteSchoolID == "" {
			deleteSchoolCmd.Usage()
			return errHelp
		}
		return cli.deleteSchool(*deleteSchoolID)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) readPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	return string(pwd), nil
}

// checkPassword applies the admin password policy.
func (cli *commandLine) checkPassword(username, schoolName, pwd string) error {
	ap := school.AdminPassword{Username: username, SchoolName: schoolName, Password: pwd}
	err := ap.Validate(cli.validate)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := core.TranslateValidationErrors(verrs, cli.translator)
	msgs := make([]string, 0, len(fields))
	for field, msg := range fields {
		msgs = append(msgs, field+": "+msg)
	}
	sort.Strings(msgs)
	return errors.New(strings.Join(msgs, "; "))
}
