package ftp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/halvard-io/ftps/internal/ftptest"
)

func sizeOf(e *DirectoryEntry) int64 {
	if e.Size == nil {
		return 0
	}
	return *e.Size
}

func TestParseListLine(t *testing.T) {
	tests := []struct {
		name           string
		line           string
		expectedName   string
		expectedKind   EntryKind
		expectedSize   int64
		expectedTarget string
	}{
		// Unix-style tests
		{
			name:         "unix directory entry",
			line:         "drw-rw-rw-   1 root  root         0 Sep 24 2024 logger",
			expectedName: "logger",
			expectedKind: KindDir,
			expectedSize: 0,
		},
		{
			name:         "unix file with size",
			line:         "-rw-rw-rw-   1 root  root   1037794 Dec 14 12:22 large-document.pdf",
			expectedName: "large-document.pdf",
			expectedKind: KindFile,
			expectedSize: 1037794,
		},
		{
			name:         "unix another file with size",
			line:         "-rw-rw-rw-   1 root  root    616300 Oct 25 01:18 archive-data.zip",
			expectedName: "archive-data.zip",
			expectedKind: KindFile,
			expectedSize: 616300,
		},
		{
			name:         "unix small file",
			line:         "-rw-rw-rw-   1 root  root        16 Dec 15 04:51 verify_job",
			expectedName: "verify_job",
			expectedKind: KindFile,
			expectedSize: 16,
		},
		{
			name:           "unix symlink",
			line:           "lrwxrwxrwx   1 root  root        11 Dec 20 10:30 link -> target.txt",
			expectedName:   "link",
			expectedKind:   KindSymlink,
			expectedSize:   11,
			expectedTarget: "target.txt",
		},
		{
			name:           "unix symlink with path",
			line:           "lrwxrwxrwx   1 root  root        20 Dec 20 10:30 mylink -> /usr/bin/python3",
			expectedName:   "mylink",
			expectedKind:   KindSymlink,
			expectedSize:   20,
			expectedTarget: "/usr/bin/python3",
		},
		{
			name:           "unix symlink with spaces in target",
			line:           "lrwxrwxrwx   1 root  root        25 Dec 20 10:30 docs -> /home/user/My Documents",
			expectedName:   "docs",
			expectedKind:   KindSymlink,
			expectedSize:   25,
			expectedTarget: "/home/user/My Documents",
		},
		// DOS/Windows-style tests
		{
			name:         "dos directory entry",
			line:         "09-24-24  10:30AM       <DIR>          logger",
			expectedName: "logger",
			expectedKind: KindDir,
			expectedSize: 0,
		},
		{
			name:         "dos file with size",
			line:         "12-14-23  12:22PM           1037794 large-document.pdf",
			expectedName: "large-document.pdf",
			expectedKind: KindFile,
			expectedSize: 1037794,
		},
		{
			name:         "dos another file",
			line:         "10-25-24  01:18AM            616300 archive-data.zip",
			expectedName: "archive-data.zip",
			expectedKind: KindFile,
			expectedSize: 616300,
		},
		{
			name:         "dos small file",
			line:         "12-15-24  04:51AM                16 verify_job",
			expectedName: "verify_job",
			expectedKind: KindFile,
			expectedSize: 16,
		},
		{
			name:         "dos file with spaces in name",
			line:         "12-20-24  03:30PM            123456 my document.txt",
			expectedName: "my document.txt",
			expectedKind: KindFile,
			expectedSize: 123456,
		},
		{
			name:         "dos directory with spaces",
			line:         "11-15-24  09:00AM       <DIR>          My Folder",
			expectedName: "My Folder",
			expectedKind: KindDir,
			expectedSize: 0,
		},
		// DOS date format variations
		{
			name:         "dos with slash separator",
			line:         "12/14/23  12:22PM           1037794 file.txt",
			expectedName: "file.txt",
			expectedKind: KindFile,
			expectedSize: 1037794,
		},
		{
			name:         "dos with 4-digit year",
			line:         "12-14-2023  12:22PM           1037794 file.txt",
			expectedName: "file.txt",
			expectedKind: KindFile,
			expectedSize: 1037794,
		},
		{
			name:         "dos with slash and 4-digit year",
			line:         "12/14/2023  12:22PM           1037794 file.txt",
			expectedName: "file.txt",
			expectedKind: KindFile,
			expectedSize: 1037794,
		},
		{
			name:         "dos directory with slash separator",
			line:         "09/24/24  10:30AM       <DIR>          logger",
			expectedName: "logger",
			expectedKind: KindDir,
			expectedSize: 0,
		},
		// Unix format variations
		{
			name:         "unix 8-field format (no group)",
			line:         "-rw-r--r--   1 user     4096 Dec 20 10:30 config.txt",
			expectedName: "config.txt",
			expectedKind: KindFile,
			expectedSize: 4096,
		},
		{
			name:         "unix 8-field directory",
			line:         "drwxr-xr-x   2 user     4096 Dec 20 10:30 mydir",
			expectedName: "mydir",
			expectedKind: KindDir,
			expectedSize: 4096,
		},
		{
			name:         "unix numeric permissions",
			line:         "644   1 user  group     4096 Dec 20 10:30 file.txt",
			expectedName: "file.txt",
			expectedKind: KindFile,
			expectedSize: 4096,
		},
		{
			name:         "unix with year instead of time",
			line:         "-rw-r--r--   1 user  group     4096 Dec 20  2023 oldfile.txt",
			expectedName: "oldfile.txt",
			expectedKind: KindFile,
			expectedSize: 4096,
		},
		{
			name:         "unix file with special chars in name",
			line:         "-rw-r--r--   1 user  group     1024 Dec 20 10:30 file-with_special.chars.txt",
			expectedName: "file-with_special.chars.txt",
			expectedKind: KindFile,
			expectedSize: 1024,
		},
		// MLSx format tests
		{
			name:         "mlsx file",
			line:         "Type=file;Size=280;Modify=20240215103000; djb.html",
			expectedName: "djb.html",
			expectedKind: KindFile,
			expectedSize: 280,
		},
		{
			name:         "mlsx directory",
			line:         "Type=dir;Modify=20240215103000; scgi",
			expectedName: "scgi",
			expectedKind: KindDir,
			expectedSize: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := parseListLine(tt.line, nil)
			if entry == nil {
				t.Fatal("parseListLine returned nil")
			}

			if entry.Name != tt.expectedName {
				t.Errorf("Name = %q, want %q", entry.Name, tt.expectedName)
			}

			if entry.Kind != tt.expectedKind {
				t.Errorf("Kind = %v, want %v", entry.Kind, tt.expectedKind)
			}

			if sizeOf(entry) != tt.expectedSize {
				t.Errorf("Size = %d, want %d", sizeOf(entry), tt.expectedSize)
			}

			if tt.expectedTarget != "" && entry.LinkTarget != tt.expectedTarget {
				t.Errorf("LinkTarget = %q, want %q", entry.LinkTarget, tt.expectedTarget)
			}
		})
	}
}

// customParser lets callers plug in support for a non-conforming LIST
// dialect without forking the package.
type customParser struct{}

func (p *customParser) Parse(line string) (*DirectoryEntry, bool) {
	if line == "custom-entry" {
		size := int64(999)
		return &DirectoryEntry{Name: "custom", Kind: KindFile, Size: &size}, true
	}
	return nil, false
}

func TestParseListLine_ModifiedAt(t *testing.T) {
	t.Parallel()
	now := time.Now()

	tests := []struct {
		name string
		line string
		want time.Time
	}{
		{
			name: "unix explicit year",
			line: "-rw-r--r--   1 user  group     4096 Dec 20 2023 oldfile.txt",
			want: time.Date(2023, time.December, 20, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "dos explicit",
			line: "12-14-23  12:22PM           1037794 large-document.pdf",
			want: time.Date(2023, time.December, 14, 12, 22, 0, 0, time.UTC),
		},
		{
			name: "dos midnight AM rollover",
			line: "01-05-24  12:05AM           200 midnight.txt",
			want: time.Date(2024, time.January, 5, 0, 5, 0, 0, time.UTC),
		},
		{
			name: "mlsx fact",
			line: "Type=file;Size=280;Modify=20240215103000; djb.html",
			want: time.Date(2024, time.February, 15, 10, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := parseListLine(tt.line, nil)
			if entry == nil {
				t.Fatal("parseListLine returned nil")
			}
			if entry.ModifiedAt == nil {
				t.Fatal("ModifiedAt is nil")
			}
			if !entry.ModifiedAt.Equal(tt.want) {
				t.Errorf("ModifiedAt = %v, want %v", entry.ModifiedAt, tt.want)
			}
		})
	}

	// The no-year unix form resolves against the current year (or the
	// previous year, if the month/day would otherwise land in the future).
	t.Run("unix no-year form resolves near now", func(t *testing.T) {
		t.Parallel()
		line := "-rw-r--r--   1 user  group     1024 Dec 20 10:30 file.txt"
		entry := parseListLine(line, nil)
		if entry == nil || entry.ModifiedAt == nil {
			t.Fatal("expected a parsed ModifiedAt")
		}
		if entry.ModifiedAt.After(now) {
			t.Errorf("ModifiedAt %v should not be after now %v", entry.ModifiedAt, now)
		}
		if now.Sub(*entry.ModifiedAt) > 366*24*time.Hour {
			t.Errorf("ModifiedAt %v too far in the past relative to now %v", entry.ModifiedAt, now)
		}
	})
}

func TestGetDirList_AutomaticSelectionFallsBackToPlainList(t *testing.T) {
	// The fixture server doesn't advertise MLSD and rejects "LIST -aL"
	// (it has no idea "-aL" isn't a path), so GetDirList's Automatic
	// selection must fall all the way back to plain LIST to succeed here.
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "report.csv"), []byte("a,b,c\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv, err := ftptest.New(root)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	c, err := Dial(srv.Addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Login("anonymous", "ftp"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	entries, err := c.GetDirList("/")
	if err != nil {
		t.Fatalf("GetDirList: %v", err)
	}

	found := false
	for _, e := range entries {
		if e.Name == "report.csv" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected report.csv in listing, got %+v", entries)
	}
}

func TestCustomParser(t *testing.T) {
	t.Parallel()
	custom := &customParser{}
	entry := parseListLine("custom-entry", []ListingParser{custom})
	if entry == nil {
		t.Fatal("custom parser failed to match")
	}
	if entry.Name != "custom" {
		t.Errorf("Expected custom, got %s", entry.Name)
	}
}
