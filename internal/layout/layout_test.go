package layout

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/xxxsen/romget/internal/rominfo"
)

func TestPlanScenario(t *testing.T) {
	t.Parallel()

	p := NewPlanner(false)
	base, err := p.Plan("/games/ps1", "game")
	require.NoError(t, err)
	assert.Equal(t, "/games/ps1/game", base)

	info := &rominfo.RomInfo{FileName: "game.iso"}
	dir := InstallDir(base, info, 1)
	assert.Equal(t, "/games/ps1/game", dir)
	assert.Equal(t, "/games/ps1/game/game.iso", DownloadTarget(dir, info))
}

func TestPlanRequiresDestination(t *testing.T) {
	t.Parallel()

	_, err := NewPlanner(false).Plan("  ", "game")
	assert.ErrorIs(t, err, ErrNoDestination)
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	p := NewPlanner(false)
	cases := map[string]string{
		"game.iso":                       "game",
		"Dr. Mario":                      "Dr. Mario",
		"Super Mario Bros. 3":            "Super Mario Bros. 3",
		"Metal Gear Solid: Disc 1":       "Metal Gear Solid_ Disc 1",
		"a/b\\c":                         "a_b_c",
		"  ":                             "unknown",
		"...":                            "unknown",
		"Final   Fantasy\tVII (USA).zip": "Final Fantasy VII (USA)",
	}
	for in, want := range cases {
		assert.Equal(t, want, p.Sanitize(in), in)
	}
}

func TestSanitizeRomanize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "zhong guo 2", NewPlanner(true).Sanitize("中国 2"))
	assert.Equal(t, "中国 2", NewPlanner(false).Sanitize("中国 2"))
}

func TestStem(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "game", Stem("game.iso"))
	assert.Equal(t, "game", Stem("game"))
	assert.Equal(t, "Game (Disc 1)", Stem("sub/Game (Disc 1).bin"))
	assert.Equal(t, "Game", Stem(`sub\Game.cue`))
}

func TestDownloadTargetMultiFile(t *testing.T) {
	t.Parallel()

	info := &rominfo.RomInfo{FileName: "Game (USA)", HasMultipleFiles: true}
	assert.Equal(t, filepath.Join("/g", "Game (USA).zip"), DownloadTarget("/g", info))
}

func TestSingleVariantIsNotNested(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		info := &rominfo.RomInfo{
			FileName:         rapid.StringMatching(`[a-zA-Z0-9 ]{1,20}\.(bin|iso|cue|chd)`).Draw(t, "name"),
			HasMultipleFiles: rapid.Bool().Draw(t, "multi"),
		}
		dirs, err := Dirs("/games/psx/Game", []*rominfo.RomInfo{info})
		if err != nil {
			t.Fatalf("dirs: %v", err)
		}
		if dirs[0] != "/games/psx/Game" {
			t.Fatalf("single variant nested: %s", dirs[0])
		}
		if filepath.Dir(DownloadTarget(dirs[0], info)) != "/games/psx/Game" {
			t.Fatalf("target not directly under base: %s", DownloadTarget(dirs[0], info))
		}
	})
}

func TestMultipleVariantsGetDistinctDirs(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 6).Draw(t, "n")
		infos := make([]*rominfo.RomInfo, 0, n)
		for i := 0; i < n; i++ {
			infos = append(infos, &rominfo.RomInfo{FileName: fmt.Sprintf("Game (Rev %d).bin", i)})
		}
		dirs, err := Dirs("/base", infos)
		if err != nil {
			t.Fatalf("dirs: %v", err)
		}
		seen := map[string]bool{}
		for _, d := range dirs {
			if seen[d] {
				t.Fatalf("duplicate dir %s", d)
			}
			if filepath.Dir(d) != "/base" {
				t.Fatalf("dir %s not directly under base", d)
			}
			seen[d] = true
		}
	})
}

func TestDirsRejectsSharedStem(t *testing.T) {
	t.Parallel()

	_, err := Dirs("/base", []*rominfo.RomInfo{{FileName: "game.bin"}, {FileName: "game.cue"}})
	assert.Error(t, err)
}
