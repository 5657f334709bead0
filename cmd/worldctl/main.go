// worldctl manages the world entity database: import a GeoJSON map,
// list what is stored, or remove an entity.
//
// Usage:
//
//	worldctl -db world.db import map.geojson
//	worldctl -db world.db list
//	worldctl -db world.db remove <entity-id>
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/mcl.localizer/internal/units"
	"github.com/banshee-data/mcl.localizer/internal/worldmodel"
	wmsqlite "github.com/banshee-data/mcl.localizer/internal/worldmodel/sqlite"
)

var dbPath = flag.String("db", "world.db", "World database path")

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: worldctl -db <path> import|list|remove ...")
		os.Exit(2)
	}

	store, err := wmsqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("Error opening %s: %v", *dbPath, err)
	}
	defer store.Close()

	switch cmd := flag.Arg(0); cmd {
	case "import":
		if flag.NArg() != 2 {
			log.Fatal("import needs a geojson path")
		}
		if err := importGeoJSON(store, flag.Arg(1)); err != nil {
			log.Fatalf("Error importing %s: %v", flag.Arg(1), err)
		}
	case "list":
		if err := list(store); err != nil {
			log.Fatalf("Error listing entities: %v", err)
		}
	case "remove":
		if flag.NArg() != 2 {
			log.Fatal("remove needs an entity id")
		}
		if err := store.DeleteEntity(flag.Arg(1)); err != nil {
			log.Fatalf("Error removing %s: %v", flag.Arg(1), err)
		}
	default:
		log.Fatalf("Unknown command %q", cmd)
	}
}

func importGeoJSON(store *wmsqlite.Store, path string) error {
	world, err := worldmodel.LoadGeoJSON(path)
	if err != nil {
		return err
	}
	n := 0
	for _, e := range world.Entities() {
		if err := store.SaveEntity(e); err != nil {
			return err
		}
		n++
	}
	fmt.Printf("imported %d entities from %s\n", n, path)
	return nil
}

func list(store *wmsqlite.Store) error {
	world, err := store.LoadWorld()
	if err != nil {
		return err
	}
	for _, e := range world.Entities() {
		fmt.Printf("%s\t(%.2f, %.2f, %.1f deg)\t%d segments\n",
			e.ID, e.Pose.T.X, e.Pose.T.Y, units.Rad2Deg(e.Pose.Angle()), len(e.Shape))
	}
	return nil
}
