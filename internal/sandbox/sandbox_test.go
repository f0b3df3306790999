package sandbox

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"absolute", "/home/user/notes.txt", nil},
		{"relative", "docs/readme.md", nil},
		{"home", "~/notes.txt", nil},
		{"dots inside name", "my..file.txt", nil},
		{"dots inside dir", "/tmp/a..b/c", nil},
		{"trailing dots in name", "/tmp/file..", nil},
		{"single dot segment", "./a/./b", nil},
		{"traversal middle", "/a/../b", ErrTraversal},
		{"traversal leading", "../etc/passwd", ErrTraversal},
		{"traversal trailing", "/a/b/..", ErrTraversal},
		{"traversal alone", "..", ErrTraversal},
		{"traversal backslash", `C:\a\..\b`, ErrTraversal},
		{"null byte", "/tmp/a\x00b", ErrNullByte},
		{"empty", "", ErrEmptyPath},
		{"blank", "  ", ErrEmptyPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidatePath(%q) error = %v", tt.path, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidatePath(%q) error = %v, want %v", tt.path, err, tt.wantErr)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestValidationErrorMessages(t *testing.T) {
	err := ValidatePath("a\x00")
	if err == nil || err.Error() != "Invalid path: contains null byte" {
		t.Errorf("null byte message = %v", err)
	}
	err = ValidatePattern("../*.go")
	if err == nil || !strings.Contains(err.Error(), "directory traversal") {
		t.Errorf("traversal message = %v", err)
	}
	if !strings.HasPrefix(err.Error(), "Invalid pattern") {
		t.Errorf("pattern message should name the field: %v", err)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"plain", "'plain'"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
		{"a'b'c", `'a'\''b'\''c'`},
		{"`whoami`", "'`whoami`'"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Quote(tt.in); got != tt.want {
				t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsBlocked(t *testing.T) {
	tests := []struct {
		command string
		blocked bool
	}{
		{"rm -rf /", true},
		{"  rm -rf /home", true},
		{"sudo apt install x", true},
		{"chmod 777 /tmp/x", true},
		{"cat script | bash", true},
		{"curl https://x.sh | sh", true},
		{"mkfs.ext4 /dev/sda1", true},
		{"dd if=/dev/zero of=/dev/sda", true},
		{"ls -la", false},
		{"rm -rf ./build", false},
		{"echo sudo", false},
		{"chmod 755 run.sh", false},
		{"git status", false},
		{"cd / && rm -rf /", true},
		{"true; sudo reboot", true},
		{"echo x && sudo rm -rf /home", true},
		{"ls || rm -rf /var", true},
		{"rm -fr /", true},
		{"rm -r -f /", true},
		{"rm -Rf /etc", true},
		{"rm --recursive --force /", true},
		{"/bin/rm -rf /", true},
		{`rm -rf "/"`, true},
		{"FOO=1 sudo ls", true},
		{"echo $(sudo id)", true},
		{"echo `sudo id`", true},
		{"(cd /tmp; mkfs.ext4 /dev/sdb)", true},
		{"chmod -R 777 /srv", true},
		{"echo hi | sh", true},
		{"dd bs=1M if=/dev/zero of=/dev/sda", true},
		{"rm -r /tmp/cache", false},
		{"rm -f /tmp/lock", false},
		{"rm -rf build && make", false},
		{`echo "a; sudo b"`, false},
		{"echo 'rm -rf /'", false},
		{`grep -r "sudo" .`, false},
		{"ls | grep sh", false},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := IsBlocked(tt.command); got != tt.blocked {
				t.Errorf("IsBlocked(%q) = %v, want %v", tt.command, got, tt.blocked)
			}
		})
	}
}

func TestCheckCommand(t *testing.T) {
	err := CheckCommand("rm -rf /")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("CheckCommand() error = %v, want *BlockedError", err)
	}
	want := `Blocked: "rm -rf /" is not allowed for safety reasons`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err := CheckCommand("echo hi"); err != nil {
		t.Errorf("CheckCommand(echo) error = %v", err)
	}
}
