package model

// Game is a library record of one logical game.
type Game struct {
	ID           string `json:"id"`
	GameID       string `json:"game_id"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	MappingID    string `json:"mapping_id"`
	PlatformID   int64  `json:"platform_id"`
	IsInstalled  bool   `json:"is_installed"`
	IsInstalling bool   `json:"is_installing"`
	CreateTime   int64  `json:"create_time"`
	UpdateTime   int64  `json:"update_time"`

	// Roms is replaced on Update when non-nil.
	Roms []ResolvedRom `json:"roms,omitempty"`
}

// ResolvedRom is one file an emulator can be launched against.
type ResolvedRom struct {
	Name string `json:"name"`
	Path string `json:"path"`
}
