package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/zelenin/go-tdlib/client"
	"golang.org/x/term"

	"github.com/mrjv/cleanslate/internal/tdx"
)

// Process exit codes for the terminal failure classes.
const (
	ExitUnknown      = 3
	ExitAPIIDInvalid = 4
	ExitUnregistered = 5
	ExitBanned       = 6
)

var (
	blink     = color.New(color.BlinkSlow)
	italic    = color.New(color.Italic)
	param     = color.New(color.Italic, color.FgBlue, color.BgHiWhite)
	warn      = color.New(color.FgHiRed)
	underline = color.New(color.Underline)

	line = strings.Repeat("-=", 40)
)

// Terminal is the console Interactor. It also owns the error policy: the
// handful of server responses that make the login unrecoverable terminate
// the process with a distinct exit code.
type Terminal struct {
	// ReleaseWait, when set, unblocks the machine's Wait before the process
	// exits, so that a waiter is never left hanging on a dead handshake.
	ReleaseWait func()
	// Exit defaults to os.Exit.
	Exit func(code int)
}

func (t *Terminal) NeedCode() (string, error) {
	fmt.Print("Enter the code (won't be shown): ")
	defer fmt.Println()
	return readpass()
}

func (t *Terminal) NeedPassword() (string, error) {
	fmt.Print("Enter 2FA password (won't be shown): ")
	defer fmt.Println()
	return readpass()
}

func (t *Terminal) OnProtocolError(e *client.Error) {
	warn.Printf("telegram: %s (code %d)\n", e.Message, e.Code)
	switch {
	case e.Code == tdx.CodeUnregistered:
		t.exit(ExitUnregistered)
	case e.Message == "API_ID_INVALID":
		t.exit(ExitAPIIDInvalid)
	case e.Message == "PHONE_NUMBER_BANNED":
		t.exit(ExitBanned)
	}
	// anything else is left to the retry policy
}

func (t *Terminal) OnUnknownError(err error) {
	if t.ReleaseWait != nil {
		t.ReleaseWait()
	}
	warn.Printf("FATAL: %s\n", err)
	t.exit(ExitUnknown)
}

func (t *Terminal) exit(code int) {
	if t.Exit != nil {
		t.Exit(code)
		return
	}
	os.Exit(code)
}

// AskPhone prompts for the phone number.
func (t *Terminal) AskPhone() (string, error) {
	fmt.Printf("Connected, please login to Telegram.\n\n")
	fmt.Print("Enter phone: ")
	return readln(os.Stdin)
}

// APICredentials interactively obtains the api_id/api_hash pair.
func (t *Terminal) APICredentials(_ context.Context) (int, string, error) {
	instructions()
	var id int
	for {
		fmt.Printf("Enter App '%s': ", param.Sprint(" api_id "))
		sID, err := readln(os.Stdin)
		if err != nil {
			return 0, "", err
		}
		id, err = strconv.Atoi(sID)
		if err == nil {
			break
		}
		fmt.Println("*** Input error: api_id should be an integer")
	}
	fmt.Printf("Enter App '%s' (won't be shown): ", param.Sprint(" api_hash "))
	hash, err := readpass()
	fmt.Println()
	if err != nil {
		return 0, "", err
	}
	return id, hash, nil
}

func instructions() {
	fmt.Println(line)
	fmt.Printf("To get the API ID and API Hash, follow the instructions:\n\n")
	fmt.Printf("\t1.  Login to telegram \"API Development tools\":\n")
	fmt.Printf("\t\t%s %s %s\n", blink.Sprint("->"), italic.Sprint("https://my.telegram.org/apps"), blink.Sprint("<-"))
	fmt.Printf("\t2.  Fill in the form:  %s, %s and %s can be any values\n\t    you like;\n"+
		"\t3.  Choose \"%s\" platform\n"+
		"\t4.  Click <Create Application> button.\n\n",
		underline.Sprint("App title"), underline.Sprint("Short Name"), underline.Sprint("URL"),
		underline.Sprint("Desktop"))
	fmt.Printf("You will see the App '%s' and App '%s' values that you will need to\n"+
		"enter shortly.  This application will encrypt and save the credentials on your\ndevice.  You can delete them any time starting with -reset flag.\n\n",
		param.Sprint(" api_id "), param.Sprint(" api_hash "))
	warn.Printf("VERY IMPORTANT: This is the key to your account, keep it secret, never share\n" +
		"it with anyone, never publish it online.\n")
	fmt.Println(line)
	fmt.Println()
}

func readln(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func readpass() (string, error) {
	stdin := int(os.Stdin.Fd())

	oldState, err := term.MakeRaw(stdin)
	if err != nil {
		return "", err
	}
	defer term.Restore(stdin, oldState)

	bytePwd, err := term.ReadPassword(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(bytePwd)), nil
}
