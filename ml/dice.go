package ml

// DiceLayers is the dice-face classifier blueprint: a flattened tile feeds two
// He-initialised relu layers of 64 and 8 units and a Glorot-initialised
// softmax over the classes.
func DiceLayers(tileSize, classes int) []LayerConfig {
	return []LayerConfig{
		Input(tileSize * tileSize),
		Dense(64, Initializer(InitHe)),
		Dense(8, Initializer(InitHe)),
		Dense(classes, Activation("softmax"), Initializer(InitGlorot)),
	}
}
