package handler

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wisepythagoras/matilda/internal/api/dto"
	"github.com/wisepythagoras/matilda/internal/tilestore"
	"github.com/wisepythagoras/matilda/internal/tiling"
	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

// parseTile reads the :z, :x and :y parameters. The y segment may carry a
// format extension; without one the configured format is used.
func (h *TileHandler) parseTile(c *gin.Context) (tiling.Coordinate, domain.Format, error) {
	var coord tiling.Coordinate
	format := h.format

	y := c.Param("y")
	if i := strings.IndexByte(y, '.'); i >= 0 {
		f, err := domain.ParseFormat(y[i+1:])
		if err != nil {
			return coord, "", err
		}
		format, y = f, y[:i]
	}

	var err error
	if coord.Z, err = strconv.Atoi(c.Param("z")); err != nil {
		return coord, "", errors.New("z must be an integer")
	}
	if coord.X, err = strconv.Atoi(c.Param("x")); err != nil {
		return coord, "", errors.New("x must be an integer")
	}
	if coord.Y, err = strconv.Atoi(y); err != nil {
		return coord, "", errors.New("y must be an integer")
	}
	if !coord.Valid() {
		return coord, "", fmt.Errorf("tile %s is outside the zoom level grid", coord)
	}

	return coord, format, nil
}

// ServeTile handles GET /tiles/:z/:x/:y
func (h *TileHandler) ServeTile(c *gin.Context) {
	coord, format, err := h.parseTile(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	path := tilestore.ResolvePath(h.root, coord, format)
	if !tilestore.Exists(path) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "tile not found",
			"tile":  coord.String(),
		})
		return
	}

	c.Header("Content-Type", format.ContentType())
	c.Header("Cache-Control", "public, max-age=86400")
	c.File(path)
}

// GetTileMetadata handles GET /api/v1/tiles/:z/:x/:y
// Reports where the tile lives, whether it is stored and what it covers
func (h *TileHandler) GetTileMetadata(c *gin.Context) {
	coord, format, err := h.parseTile(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	bound := coord.Bound()
	resp := dto.TileDTO{
		Z:      coord.Z,
		X:      coord.X,
		Y:      coord.Y,
		Format: string(format),
		Path:   tilestore.ResolvePath(h.root, coord, format),
		Bounds: dto.BoundsDTO{
			West:  bound.Left(),
			South: bound.Bottom(),
			East:  bound.Right(),
			North: bound.Top(),
		},
	}

	info, err := tilestore.Stat(h.root, coord, format)
	switch {
	case err == nil && info.Mode().IsRegular():
		resp.Exists = true
		resp.Size = info.Size()
		resp.ModifiedAt = info.ModTime().UTC().Format(time.RFC3339)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		h.logger.Error("Failed to stat tile",
			slog.String("tile", coord.String()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read tile store",
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}
